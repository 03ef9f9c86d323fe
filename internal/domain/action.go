package domain

// ActionResult es la salida de la acción sendMessage de Hasura.
type ActionResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Response string `json:"response"`
}

// SendState es el estado del flujo de envío de un mensaje.
type SendState int

const (
	SendIdle SendState = iota
	SendSendingUserMessage
	SendAwaitingBot
	SendSettled
	SendError
)

func (s SendState) String() string {
	switch s {
	case SendIdle:
		return "idle"
	case SendSendingUserMessage:
		return "sending-user-message"
	case SendAwaitingBot:
		return "awaiting-bot"
	case SendSettled:
		return "settled"
	case SendError:
		return "error"
	default:
		return "unknown"
	}
}
