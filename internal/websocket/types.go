package websocket

type Room struct {
	ID      string
	Clients map[*WSClient]struct{}
}

// WSMessage is an encoded envelope bound for a room, or for a single client
// when Client is set.
type WSMessage struct {
	RoomID string
	Client *WSClient
	Data   []byte
}

type membership struct {
	client *WSClient
	roomID string
}

type roomSizeReq struct {
	roomID string
	reply  chan int
}
