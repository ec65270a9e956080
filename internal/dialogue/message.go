package dialogue

// MessageID numbers a message within its dialogue: 1, 2, 3, ... for the
// dialogue's initiator and -1, -2, -3, ... for its counterparty, per the
// teacher's MessageId/StartingMessageId convention.
type MessageID int

// StartingMessageID is the id of the first message of any dialogue.
const StartingMessageID MessageID = 1

// StartingTarget is the target of the first message of any dialogue (it
// replies to nothing).
const StartingTarget MessageID = 0

// AddressedMessage is the subset of a concrete protocol.Message that carries
// dialogue bookkeeping fields. protocol.Message itself only guarantees
// Performative(); codecs whose wire format carries message/target ids and a
// dialogue reference can additionally implement this interface to opt into
// tracking. Messages that don't implement it simply bypass dialogue
// validation in the dispatch pipeline.
type AddressedMessage interface {
	Performative() string
	Sender() string
	To() string
	MessageID() MessageID
	Target() MessageID
	DialogueReference() Reference
}

func abs(id MessageID) MessageID {
	if id < 0 {
		return -id
	}
	return id
}

func maxID(ids []MessageID) MessageID {
	m := ids[0]
	for _, id := range ids[1:] {
		if id > m {
			m = id
		}
	}
	return m
}
