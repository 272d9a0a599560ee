package bot

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/laraujo4/chatbot-empresa/internal/model"
	"github.com/laraujo4/chatbot-empresa/internal/transport"
)

// outcome is what a single inbound message leads to. Exactly one
// outcome fires per message.
type outcome int

const (
	outcomeFiltered outcome = iota
	outcomeClosed
	outcomeWelcome
	outcomeReprompt
	outcomeSelectOption
	outcomeReturnToMenu
	outcomeFreeText
	outcomeFallback
)

type decision struct {
	outcome outcome
	option  model.MenuOption
}

// decide is the pure transition function of the dialogue state machine.
// Rules are evaluated in precedence order against the trimmed,
// accent-stripped, lower-cased body; side effects are layered on by the
// dispatcher.
func decide(msg transport.Message, current model.MenuOption, outsideWindow, greetedToday bool, triggers []string) decision {
	if msg.IsGroup || msg.IsBroadcast || msg.IsStatus || msg.FromMe || msg.Type != transport.MessageText {
		return decision{outcome: outcomeFiltered}
	}
	body := normalizeBody(msg.Body)
	if body == "" {
		return decision{outcome: outcomeFiltered}
	}

	if outsideWindow {
		return decision{outcome: outcomeClosed}
	}

	if matchesTrigger(body, triggers) {
		if !greetedToday {
			return decision{outcome: outcomeWelcome}
		}
		return decision{outcome: outcomeReprompt}
	}

	if current == model.OptionNone {
		if option, ok := optionForDigit(body); ok {
			return decision{outcome: outcomeSelectOption, option: option}
		}
		return decision{outcome: outcomeFallback}
	}

	if body == "4" {
		return decision{outcome: outcomeReturnToMenu}
	}
	// Free-form order details inside an option; left for a human.
	return decision{outcome: outcomeFreeText}
}

// optionForDigit requires exact equality with the trimmed body: "1"
// selects, "1 please" and "10" do not.
func optionForDigit(body string) (model.MenuOption, bool) {
	switch body {
	case "1":
		return model.OptionOrder, true
	case "2":
		return model.OptionCorn, true
	case "3":
		return model.OptionAgent, true
	default:
		return model.OptionNone, false
	}
}

func matchesTrigger(normalized string, triggers []string) bool {
	for _, trigger := range triggers {
		if strings.Contains(normalized, trigger) {
			return true
		}
	}
	return false
}

// normalizeBody trims, lower-cases and strips combining accents so
// "Olá" matches the trigger "ola".
func normalizeBody(body string) string {
	lowered := strings.ToLower(strings.TrimSpace(body))
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, lowered)
	if err != nil {
		return lowered
	}
	return stripped
}

// Reply texts, kept close to the storefront's voice.

const (
	textClosed = "🕒 Não estamos atendendo no momento. Deixe sua mensagem e responderemos em breve!"

	textFallback = "Não entendi 🤔 Digite *menu* para ver as opções."

	textBackToMenu = "Digite *4* para voltar ao menu inicial."
)

func welcomeMenu(firstName string) string {
	return strings.Join([]string{
		fmt.Sprintf("Olá, *%s*! Seja bem-vindo à *Pamonha e Cia* 🌽", firstName),
		"Sou seu assistente virtual!",
		"",
		"Por favor, escolha uma opção *(digite apenas o número)*:",
		"",
		"1️⃣ Fazer um pedido",
		"2️⃣ Encomendar milho",
		"3️⃣ Falar com um atendente",
	}, "\n")
}

func repromptMenu(firstName string) string {
	return strings.Join([]string{
		fmt.Sprintf("Como posso ajudar, *%s*? Escolha uma opção *(digite apenas o número)*:", firstName),
		"",
		"1️⃣ Fazer um pedido",
		"2️⃣ Encomendar milho",
		"3️⃣ Falar com um atendente",
	}, "\n")
}

// scriptStep is one reply in an option script: a text chunk, or the
// menu image when imageCaption is set.
type scriptStep struct {
	text         string
	imageCaption string
}

// optionScript returns the ordered reply steps for a selected option.
// The dispatcher paces them with typing indicators and short delays;
// the image step is skipped when no menu image file is configured.
func optionScript(option model.MenuOption) []scriptStep {
	switch option {
	case model.OptionOrder:
		return []scriptStep{
			{text: "🛵 Entregamos nossos produtos fresquinhos em Praia Grande, Santos, São Vicente e Mongaguá!\n\nJunto com o seu pedido, informe seu *endereço completo*."},
			{text: "📋 Aqui está o nosso cardápio!\nTaxa de entrega: R$ 5,00 (8h às 17h)."},
			{imageCaption: "📋 Nosso Cardápio"},
			{text: textBackToMenu},
		}
	case model.OptionCorn:
		return []scriptStep{
			{text: "🌽 *Encomenda de Milho*\n\nSe já é cliente, informe a quantidade de sacos.\n\nSe é seu primeiro pedido, informe:\n📍 Endereço completo\n💵 Valor: R$ 90,00 (Saco Grande)\n\n" + textBackToMenu},
		}
	case model.OptionAgent:
		return []scriptStep{
			{text: "👤 Entendido! Um atendente irá falar com você em instantes. Por favor, aguarde.\n\n" + textBackToMenu},
		}
	default:
		return nil
	}
}
