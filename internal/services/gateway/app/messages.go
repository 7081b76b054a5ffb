package server

import (
	"fmt"
	"log"

	"github.com/louisbranch/undertow/internal/protocol"
)

func systemLabel(locale string) string {
	switch locale {
	case "pt-BR":
		return "sistema"
	default:
		return "system"
	}
}

func welcomeBody(locale, userID, namespace string) string {
	name := userID
	switch locale {
	case "pt-BR":
		if name == "" {
			name = "visitante"
		}
		return fmt.Sprintf("Bem-vindo %s. Você está conectado ao namespace %s.", name, namespace)
	default:
		if name == "" {
			name = "guest"
		}
		return fmt.Sprintf("Welcome %s. You are connected to namespace %s.", name, namespace)
	}
}

// sendWelcome greets a freshly opened session in its negotiated locale.
func (c *conn) sendWelcome() {
	packet := protocol.Packet{
		Type:      protocol.Event,
		Namespace: c.namespace,
		Data: map[string]any{
			"event": eventWelcome,
			"from":  systemLabel(c.locale),
			"data":  welcomeBody(c.locale, c.userID, c.namespace),
		},
	}
	if err := c.writePacket(packet); err != nil {
		log.Printf("gateway: welcome write failed session=%s err=%v", c.sess.ID(), err)
	}
}
