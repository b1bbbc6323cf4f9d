package store

import (
	"sort"
	"sync"
)

// forest holds one channel's messages and their reply/thread structure.
// All writes to a channel go through its forest under the write lock, which
// is what serializes ingestion per channel while channels stay independent.
//
// The children index is keyed by parent id and may hold edges whose parent
// has not arrived yet; such edges are additionally tracked in pending so
// they can be counted and reported as repaired when the parent shows up.
// Traversals only ever follow edges through messages that exist, so an
// unresolved edge is invisible to queries until its parent arrives.
type forest struct {
	// wmu is held by the Store across the in-memory upsert and the driver
	// write so per-channel writes serialize end to end. Readers only ever
	// take mu and are never blocked by persistence.
	wmu sync.Mutex
	mu  sync.RWMutex

	messages map[string]*Message
	children map[string][]string // parent id -> child ids, chronological
	threads  map[string][]string // thread id -> member ids, chronological
	pending  map[string][]string // missing parent id -> waiting child ids
}

func newForest() *forest {
	return &forest{
		messages: make(map[string]*Message),
		children: make(map[string][]string),
		threads:  make(map[string][]string),
		pending:  make(map[string][]string),
	}
}

// upsert inserts or replaces a message and maintains every index. The
// returned result reflects demotions and repairs performed during this call.
func (f *forest) upsert(msg *Message) *UpsertResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := f.messages[msg.ID]
	if old != nil && old.equalPayload(msg) {
		return &UpsertResult{Message: old.Clone(), Unchanged: true}
	}

	stored := msg.Clone()
	result := &UpsertResult{New: old == nil}

	// A parent reference that closes a loop back to this message gets the
	// message demoted to top-level instead of rejected.
	if stored.ParentID != "" && f.closesCycle(stored.ID, stored.ParentID) {
		stored.ParentID = ""
		result.Demoted = true
	}

	if old != nil {
		if old.ParentID != stored.ParentID {
			f.unlinkChild(old.ParentID, old.ID)
		}
		if old.ThreadID != stored.ThreadID {
			f.unlinkThread(old.ThreadID, old.ID)
		}
		result.TextChanged = old.Text != stored.Text
	} else {
		result.TextChanged = stored.Text != ""
	}

	f.messages[stored.ID] = stored

	if stored.ParentID != "" && (old == nil || old.ParentID != stored.ParentID) {
		f.linkChild(stored.ParentID, stored.ID)
	}
	if stored.ThreadID != "" && (old == nil || old.ThreadID != stored.ThreadID) {
		f.linkThread(stored.ThreadID, stored.ID)
	}

	// Timestamp corrections must keep sibling orders sorted.
	if old != nil && old.PostedTs != stored.PostedTs {
		if stored.ParentID != "" {
			f.resort(f.children[stored.ParentID])
		}
		if stored.ThreadID != "" {
			f.resort(f.threads[stored.ThreadID])
		}
	}

	// Children that arrived before this message were dangling until now;
	// their edges become traversable the moment the parent exists.
	if waiting, ok := f.pending[stored.ID]; ok {
		result.Repaired = len(waiting)
		delete(f.pending, stored.ID)
	}

	result.Message = stored.Clone()
	return result
}

// closesCycle reports whether attaching id under parentID would make the
// parent chain loop back to id. The walk stops at the first missing parent,
// so chains with unresolved edges can never loop.
func (f *forest) closesCycle(id, parentID string) bool {
	if parentID == id {
		return true
	}
	seen := map[string]struct{}{id: {}}
	cur := parentID
	for cur != "" {
		if _, dup := seen[cur]; dup {
			return true
		}
		seen[cur] = struct{}{}
		p, ok := f.messages[cur]
		if !ok {
			return false
		}
		cur = p.ParentID
	}
	return false
}

func (f *forest) linkChild(parentID, childID string) {
	f.children[parentID] = f.insertSorted(f.children[parentID], childID)
	if _, ok := f.messages[parentID]; !ok {
		f.pending[parentID] = append(f.pending[parentID], childID)
	}
}

func (f *forest) unlinkChild(parentID, childID string) {
	if parentID == "" {
		return
	}
	f.children[parentID] = removeID(f.children[parentID], childID)
	if len(f.children[parentID]) == 0 {
		delete(f.children, parentID)
	}
	if waiting, ok := f.pending[parentID]; ok {
		waiting = removeID(waiting, childID)
		if len(waiting) == 0 {
			delete(f.pending, parentID)
		} else {
			f.pending[parentID] = waiting
		}
	}
}

func (f *forest) linkThread(threadID, id string) {
	f.threads[threadID] = f.insertSorted(f.threads[threadID], id)
}

func (f *forest) unlinkThread(threadID, id string) {
	if threadID == "" {
		return
	}
	f.threads[threadID] = removeID(f.threads[threadID], id)
	if len(f.threads[threadID]) == 0 {
		delete(f.threads, threadID)
	}
}

// insertSorted keeps id lists in chronological order. Every list member has
// a stored message: edges are only linked during the member's own upsert.
func (f *forest) insertSorted(ids []string, id string) []string {
	out := append(append([]string{}, ids...), id)
	f.resort(out)
	return out
}

func (f *forest) resort(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return chronoLess(f.messages[ids[i]], f.messages[ids[j]])
	})
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// get returns a copy of the message, or nil when unknown.
func (f *forest) get(id string) *Message {
	f.mu.RLock()
	defer f.mu.RUnlock()
	msg, ok := f.messages[id]
	if !ok {
		return nil
	}
	return msg.Clone()
}

// ancestors walks the parent chain, root-most first, the immediate parent
// last. The walk stops at maxDepth, at a top-level message, or at a parent
// that has not arrived yet.
func (f *forest) ancestors(id string, maxDepth int) []*Message {
	f.mu.RLock()
	defer f.mu.RUnlock()

	msg, ok := f.messages[id]
	if !ok || maxDepth <= 0 {
		return nil
	}

	chain := []*Message{}
	cur := msg.ParentID
	for len(chain) < maxDepth && cur != "" {
		parent, ok := f.messages[cur]
		if !ok {
			break
		}
		chain = append(chain, parent.Clone())
		cur = parent.ParentID
	}

	// Collected nearest-first; callers get root-most first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// descendants walks the reply tree below id breadth-first. Each node
// contributes at most maxFanout children, levels come out in traversal
// order, and siblings within a level are chronological.
func (f *forest) descendants(id string, maxDepth, maxFanout int) []*Message {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, ok := f.messages[id]; !ok || maxDepth <= 0 {
		return nil
	}

	out := []*Message{}
	level := []string{id}
	for depth := 0; depth < maxDepth && len(level) > 0; depth++ {
		next := []string{}
		for _, parentID := range level {
			kids := f.children[parentID]
			if maxFanout > 0 && len(kids) > maxFanout {
				kids = kids[:maxFanout]
			}
			for _, kid := range kids {
				out = append(out, f.messages[kid].Clone())
				next = append(next, kid)
			}
		}
		level = next
	}
	return out
}

// threadSiblings returns every message sharing the thread of id, including
// id itself, in chronological order.
func (f *forest) threadSiblings(id string) []*Message {
	f.mu.RLock()
	defer f.mu.RUnlock()

	msg, ok := f.messages[id]
	if !ok || msg.ThreadID == "" {
		return nil
	}

	members := f.threads[msg.ThreadID]
	out := make([]*Message, 0, len(members))
	for _, mid := range members {
		out = append(out, f.messages[mid].Clone())
	}
	return out
}

// stats counts the forest's contents under the read lock.
func (f *forest) stats(channelID string) *ChannelStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	unresolved := 0
	for _, waiting := range f.pending {
		unresolved += len(waiting)
	}
	return &ChannelStats{
		ChannelID:  channelID,
		Messages:   len(f.messages),
		Threads:    len(f.threads),
		Unresolved: unresolved,
	}
}
