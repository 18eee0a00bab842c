package server

import (
	"log"
	"sync"

	"github.com/npezzotti/go-myclean/internal/chat"
)

// conversation is the live view of one booking's chat: the connections
// that joined it and the lock that orders its messages.
type conversation struct {
	bookingId int
	parties   chat.Participants
	// refs counts joined clients and in-flight sends; guarded by
	// Gateway.convLock.
	refs int
	// sendLock spans persisting a message and queueing it, so every
	// receiver observes persisted order.
	sendLock   sync.Mutex
	clients    map[*Client]struct{}
	userMap    map[int]map[*Client]struct{}
	clientLock sync.RWMutex
	log        *log.Logger
}

func newConversation(bookingId int, parties chat.Participants, l *log.Logger) *conversation {
	return &conversation{
		bookingId: bookingId,
		parties:   parties,
		clients:   make(map[*Client]struct{}),
		userMap:   make(map[int]map[*Client]struct{}),
		log:       l,
	}
}

func (cv *conversation) addClient(c *Client) {
	cv.clientLock.Lock()
	defer cv.clientLock.Unlock()

	cv.clients[c] = struct{}{}
	if cv.userMap[c.userId] == nil {
		cv.userMap[c.userId] = make(map[*Client]struct{})
	}
	cv.userMap[c.userId][c] = struct{}{}
}

// removeClient reports whether c was a member.
func (cv *conversation) removeClient(c *Client) bool {
	cv.clientLock.Lock()
	defer cv.clientLock.Unlock()

	if _, ok := cv.clients[c]; !ok {
		cv.log.Printf("connection %s not found in conversation %d", c.id, cv.bookingId)
		return false
	}

	delete(cv.clients, c)
	if userClients, ok := cv.userMap[c.userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cv.userMap, c.userId)
		}
	}

	return true
}

// observers returns the member connections that do not belong to userId.
func (cv *conversation) observers(userId int) []*Client {
	cv.clientLock.RLock()
	defer cv.clientLock.RUnlock()

	out := make([]*Client, 0, len(cv.clients))
	for c := range cv.clients {
		if c.userId != userId {
			out = append(out, c)
		}
	}
	return out
}

// viewers returns the users with at least one member connection.
func (cv *conversation) viewers() []int {
	cv.clientLock.RLock()
	defer cv.clientLock.RUnlock()

	out := make([]int, 0, len(cv.userMap))
	for id := range cv.userMap {
		out = append(out, id)
	}
	return out
}
