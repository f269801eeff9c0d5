package session

import "DMProject/module/dm/model"

var statusRank = map[string]int{
	model.StatusSent:      0,
	model.StatusDelivered: 1,
	model.StatusRead:      2,
}

// sequence is the ordered message list of one room, oldest first. All inserts go
// through upsert, which is the only place duplicates are resolved.
type sequence struct {
	items []model.Message
}

func (q *sequence) reset() { q.items = nil }

func (q *sequence) len() int { return len(q.items) }

func (q *sequence) indexOfTemp(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i := range q.items {
		if q.items[i].TempID == tempID {
			return i
		}
	}
	return -1
}

func (q *sequence) indexOfID(id string) int {
	if id == "" {
		return -1
	}
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

// upsert applies m. A temp-id match wins over a canonical-id match; the entry
// keeps its position. If the canonical id already sits elsewhere the temp entry
// is dropped in its favor. Unmatched messages are inserted chronologically.
func (q *sequence) upsert(m model.Message) {
	if i := q.indexOfTemp(m.TempID); i >= 0 {
		if j := q.indexOfID(m.ID); j >= 0 && j != i {
			q.items[j] = merge(q.items[j], m)
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
		q.items[i] = merge(q.items[i], m)
		return
	}
	if i := q.indexOfID(m.ID); i >= 0 {
		q.items[i] = merge(q.items[i], m)
		return
	}
	q.insert(m)
}

func (q *sequence) insert(m model.Message) {
	i := len(q.items)
	for i > 0 && q.items[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	q.items = append(q.items, model.Message{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = m
}

// merge lets the incoming copy win, except that local deletion and a further
// delivery status are never undone.
func merge(cur, in model.Message) model.Message {
	out := in
	if out.TempID == "" {
		out.TempID = cur.TempID
	}
	if in.Pending && !cur.Pending {
		out.Pending = false
	}
	if statusRank[cur.Status] > statusRank[in.Status] {
		out.Status = cur.Status
	}
	if cur.Deleted && !in.Deleted {
		out.MarkDeleted()
	}
	return out
}

// removePending drops the optimistic entry for tempID if it was never confirmed.
func (q *sequence) removePending(tempID string) bool {
	i := q.indexOfTemp(tempID)
	if i < 0 || !q.items[i].Pending {
		return false
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	return true
}

func (q *sequence) markAllRead() bool {
	changed := false
	for i := range q.items {
		if q.items[i].Status != model.StatusRead {
			q.items[i].Status = model.StatusRead
			changed = true
		}
	}
	return changed
}

func (q *sequence) markDeleted(id string) bool {
	i := q.indexOfID(id)
	if i < 0 || q.items[i].Deleted {
		return false
	}
	q.items[i].MarkDeleted()
	return true
}

func (q *sequence) get(id string) (model.Message, bool) {
	if i := q.indexOfID(id); i >= 0 {
		return q.items[i], true
	}
	return model.Message{}, false
}

func (q *sequence) copy() []model.Message {
	out := make([]model.Message, len(q.items))
	copy(out, q.items)
	for i := range out {
		if a := out[i].Attachment; a != nil {
			cp := *a
			out[i].Attachment = &cp
		}
	}
	return out
}
