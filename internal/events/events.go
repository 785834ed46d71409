package events

// Type discriminates the events emitted by the reconciliation core.
type Type string

const (
	TypeJoined         Type = "joined"
	TypeLeft           Type = "left"
	TypeOrderCompleted Type = "order_completed"
	TypeBroadcast      Type = "broadcast"
)

// Event is the base interface for everything published to the dispatcher.
type Event interface {
	Type() Type
}

// Joined is emitted when a bot-mediated join has been verified and credited.
type Joined struct {
	UserID          int64
	Username        string
	ChannelID       int64
	ChannelUsername string
	OwnerID         int64 // 0 for pre-seeded channels without an order
	Points          int64
}

func (e Joined) Type() Type { return TypeJoined }

// Left is emitted when a confirmed departure has been penalized.
type Left struct {
	UserID          int64
	ChannelID       int64
	ChannelUsername string
	Penalty         int64
}

func (e Left) Type() Type { return TypeLeft }

// OrderCompleted is emitted exactly once when an order reaches its target.
type OrderCompleted struct {
	OrderID         int64
	ChannelID       int64
	ChannelUsername string
	OwnerID         int64
	Target          int
}

func (e OrderCompleted) Type() Type { return TypeOrderCompleted }

// Broadcast is an admin message fanned out to every listed recipient.
// Recipients are resolved by the producer so the dispatcher stays stateless.
type Broadcast struct {
	Recipients []int64
	Text       string
}

func (e Broadcast) Type() Type { return TypeBroadcast }

// Publisher decouples event producers from the notification dispatcher.
// Publish must never block the caller.
type Publisher interface {
	Publish(event Event)
}
