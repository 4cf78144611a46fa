package ws

import "github.com/cardtable/lobby-service/internal/domain"

// Типы сообщений в сторону клиента. События мутаций ретранслируются
// со своим domain-типом (member_joined, ready_changed, ...).
const (
	TypeState = "state" // полный снапшот комнаты при подключении

	// клиент → сервер
	TypeHeartbeat = "heartbeat"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func eventMessage(ev domain.Event) Message {
	return Message{Type: ev.Kind, Payload: ev}
}

func stateMessage(snapshot *domain.RoomSnapshot) Message {
	return Message{Type: TypeState, Payload: snapshot}
}
