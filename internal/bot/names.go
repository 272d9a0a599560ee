package bot

import (
	"strings"

	"github.com/laraujo4/chatbot-empresa/internal/transport"
)

const fallbackName = "amigo"

// nameStrategy tries one way of extracting a display name for the
// sender. First success wins.
type nameStrategy func(msg transport.Message, conn transport.Conn) (string, bool)

var nameStrategies = []nameStrategy{
	pushNameStrategy,
	contactQueryStrategy,
}

// lookupName resolves the sender's first name for greeting, falling
// back to a fixed placeholder. It never fails the send path.
func lookupName(msg transport.Message, conn transport.Conn) string {
	for _, strategy := range nameStrategies {
		if name, ok := strategy(msg, conn); ok {
			return firstName(name)
		}
	}
	return fallbackName
}

func pushNameStrategy(msg transport.Message, _ transport.Conn) (string, bool) {
	name := strings.TrimSpace(msg.PushName)
	return name, name != ""
}

func contactQueryStrategy(msg transport.Message, conn transport.Conn) (string, bool) {
	if conn == nil {
		return "", false
	}
	name, err := conn.ContactName(msg.From)
	if err != nil {
		return "", false
	}
	name = strings.TrimSpace(name)
	return name, name != ""
}

func firstName(full string) string {
	if fields := strings.Fields(full); len(fields) > 0 {
		return fields[0]
	}
	return fallbackName
}
