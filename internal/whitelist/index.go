package whitelist

import "sync"

// ApprovalIndex maps requester ids to the moderation-channel message whose
// reactions decide their request, and back. It is transient and derived:
// the store's routing_message_id column is authoritative, the index only
// saves a store scan per decision signal.
type ApprovalIndex struct {
	mu          sync.RWMutex
	byRequester map[string]string
	byMessage   map[string]string
}

// NewApprovalIndex creates an empty index.
func NewApprovalIndex() *ApprovalIndex {
	return &ApprovalIndex{
		byRequester: make(map[string]string),
		byMessage:   make(map[string]string),
	}
}

// Bind associates a requester with a routing message, replacing any prior
// binding for either key.
func (i *ApprovalIndex) Bind(requesterID, messageID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if old, ok := i.byRequester[requesterID]; ok {
		delete(i.byMessage, old)
	}
	if old, ok := i.byMessage[messageID]; ok {
		delete(i.byRequester, old)
	}
	i.byRequester[requesterID] = messageID
	i.byMessage[messageID] = requesterID
}

// RequesterFor returns the requester bound to a routing message.
func (i *ApprovalIndex) RequesterFor(messageID string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	requesterID, ok := i.byMessage[messageID]
	return requesterID, ok
}

// MessageFor returns the routing message bound to a requester.
func (i *ApprovalIndex) MessageFor(requesterID string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	messageID, ok := i.byRequester[requesterID]
	return messageID, ok
}

// Unbind removes a requester's binding, if any.
func (i *ApprovalIndex) Unbind(requesterID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if messageID, ok := i.byRequester[requesterID]; ok {
		delete(i.byMessage, messageID)
		delete(i.byRequester, requesterID)
	}
}

// Len returns the number of bindings.
func (i *ApprovalIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byRequester)
}
