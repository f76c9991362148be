package simnet

// Handler implements the per-node protocol logic that the dispatcher drives.
// Init runs once, immediately after the node is registered, under the
// node's handler lock. CheckEnqueue runs on the sender's behalf before a
// message is queued and may reject it (return false) without ever invoking
// HandleMessage. StartMessage is invoked externally (via Dispatcher.GenMessage)
// to seed protocol activity rather than in response to a received message.
type Handler[T any] interface {
	Init()
	CheckEnqueue(msg Message[T]) bool
	StartMessage(msg Message[T])
	HandleMessage(msg Message[T])
}

// BaseHandler supplies the defaults most handlers want (accept every
// message, no setup work) so concrete protocol types only need to
// implement the methods they actually care about.
type BaseHandler[T any] struct{}

func (BaseHandler[T]) Init() {}

func (BaseHandler[T]) CheckEnqueue(Message[T]) bool { return true }
