package domain

// Card is the content of a learning item: a prompt, its answer and an
// optional usage example. Its memory state lives in fsrs.Card.
type Card struct {
	Front   string
	Back    string
	Example string
	// Hash is the normalized content hash, used as the card identifier.
	Hash string
}
