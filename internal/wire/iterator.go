package wire

import "go.mongodb.org/mongo-driver/bson"

// Next advances the cursor and decodes the current document as raw BSON.
// It returns false at end-of-cursor or on error; callers check Err after a
// false return to distinguish the two.
func (it *Iterator) Next() (bson.Raw, bool) {
	if it.err != nil || it.cursor == nil {
		return nil, false
	}

	if !it.cursor.Next(it.ctx) {
		it.err = it.cursor.Err()
		return nil, false
	}

	var raw bson.Raw
	if err := it.cursor.Decode(&raw); err != nil {
		it.err = err
		return nil, false
	}
	return raw, true
}

// Err reports any error observed during iteration, excluding the normal
// end-of-cursor condition.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the cursor's server-side resources.
func (it *Iterator) Close() error {
	if it.cursor != nil {
		if err := it.cursor.Close(it.ctx); err != nil && it.err == nil {
			it.err = err
		}
	}
	return it.err
}

// All drains the cursor into a slice of raw documents.
func (it *Iterator) All() ([]bson.Raw, error) {
	var docs []bson.Raw
	for {
		raw, ok := it.Next()
		if !ok {
			break
		}
		docs = append(docs, raw)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
