package ids

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TempPrefix marks client-generated identifiers of messages the server has not confirmed.
const TempPrefix = "tmp-"

// Node generates snowflake IDs: 41 bits of milliseconds since epoch, 10 bits node, 12 bits sequence.
type Node struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
	now      func() time.Time
}

var (
	defaultNode *Node
	once        sync.Once
)

func initDefault() {
	once.Do(func() {
		defaultNode = NewNode(1)
	})
}

// NewNode returns a generator for nodeID, clamped to 1 when out of range.
func NewNode(nodeID int64) *Node {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	return &Node{
		epochMS: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		nodeID:  nodeID,
		now:     time.Now,
	}
}

// Generate returns a new snowflake ID from the default node.
func Generate() int64 {
	initDefault()
	return defaultNode.Next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// SetNodeID sets the default node's nodeID (0~1023); call it during startup.
func SetNodeID(nodeID int64) {
	initDefault()
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	defaultNode.mu.Lock()
	defaultNode.nodeID = nodeID
	defaultNode.mu.Unlock()
}

// TempID returns a fresh client-side message identifier.
func TempID() string {
	return TempPrefix + uuid.NewString()
}

// IsTemp reports whether id was produced by TempID.
func IsTemp(id string) bool {
	return len(id) > len(TempPrefix) && id[:len(TempPrefix)] == TempPrefix
}

func (n *Node) NextString() string {
	return strconv.FormatInt(n.Next(), 10)
}

func (n *Node) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	for {
		now := n.now().UnixMilli()
		if now < n.lastTSMS {
			// clock moved backwards, wait it out
			time.Sleep(time.Duration(n.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == n.lastTSMS {
			n.seq = (n.seq + 1) & 0xFFF
			if n.seq == 0 {
				// sequence exhausted, spin to the next millisecond
				for now <= n.lastTSMS {
					now = n.now().UnixMilli()
				}
			}
		} else {
			n.seq = 0
		}
		n.lastTSMS = now

		ts := (now - n.epochMS) & ((1 << 41) - 1)
		return (ts << 22) | (n.nodeID << 12) | n.seq
	}
}
