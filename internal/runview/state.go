package runview

import "unicode/utf8"

// MaxRawBytes caps the accumulated raw output per item. A single delta that
// would push the buffer past the cap is clipped; everything after the cap
// is dropped and Truncated is set.
const MaxRawBytes = 60000

// MaxPreviewBytes bounds the short preview string kept alongside the raw
// buffer for cheap rendering.
const MaxPreviewBytes = 400

// Item status values. Cancelling a run does not introduce a fourth status:
// items freeze at their last value.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Item is the view state of one model invocation.
type Item struct {
	ItemID      string `json:"itemId"`
	ModelID     string `json:"modelId"`
	ModelName   string `json:"modelName"`
	DisplayName string `json:"displayName"`
	Status      string `json:"status"`
	QueueMs     int64  `json:"queueMs"`
	TTFTMs      int64  `json:"ttftMs"`
	TotalMs     int64  `json:"totalMs"`
	Raw         string `json:"raw"`
	Preview     string `json:"preview"`
	Truncated   bool   `json:"truncated"`
	RepeatIndex int    `json:"repeatIndex"`
	RepeatN     int    `json:"repeatN"`
	ErrMessage  string `json:"errMessage,omitempty"`
}

func (it *Item) terminal() bool {
	return it.Status == StatusDone || it.Status == StatusError
}

// State is the aggregate view of one run.
type State struct {
	Items    map[string]*Item `json:"items"`
	Order    []string         `json:"order"`
	Finished bool             `json:"finished"`
	Failed   bool             `json:"failed"`
	ErrMsg   string           `json:"errMsg,omitempty"`
	ErrCode  string           `json:"errCode,omitempty"`
}

// NewState returns an empty run state.
func NewState() *State {
	return &State{Items: make(map[string]*Item)}
}

// Apply folds one event into the state. The reducer is deterministic: for
// a fixed per-item event order the final state does not depend on how
// events of distinct items interleave. Terminal events are idempotent and
// events for unknown items are dropped.
func (s *State) Apply(ev Event) {
	switch ev.Channel {
	case ChannelRun:
		s.applyRun(ev.Run)
	case ChannelModel:
		s.applyModel(ev.Model)
	}
}

func (s *State) applyRun(ev *RunEvent) {
	if s.Finished {
		return
	}
	switch ev.Type {
	case RunError:
		s.Finished = true
		s.Failed = true
		s.ErrMsg = ev.Message
		s.ErrCode = ev.Code
	case RunDone:
		s.Finished = true
	}
}

func (s *State) applyModel(ev *ModelEvent) {
	if ev.Type == ModelStart {
		if _, exists := s.Items[ev.ItemID]; exists || ev.ItemID == "" {
			return
		}
		s.Items[ev.ItemID] = &Item{
			ItemID:      ev.ItemID,
			ModelID:     ev.ModelID,
			ModelName:   ev.ModelName,
			DisplayName: ev.DisplayName,
			Status:      StatusRunning,
			QueueMs:     ev.QueueMs,
			RepeatIndex: ev.RepeatIndex,
			RepeatN:     ev.RepeatN,
		}
		s.Order = append(s.Order, ev.ItemID)
		return
	}

	item, ok := s.Items[ev.ItemID]
	if !ok {
		return
	}

	switch ev.Type {
	case ModelDelta:
		if item.terminal() {
			return
		}
		item.appendRaw(ev.Text)
	case FirstToken:
		if item.TTFTMs == 0 {
			item.TTFTMs = ev.TTFTMs
		}
	case ModelDone:
		if item.terminal() {
			return
		}
		item.Status = StatusDone
		item.TotalMs = ev.TotalMs
		// Backfill for backends that skip incremental deltas.
		if item.Raw == "" && ev.Content != "" {
			item.appendRaw(ev.Content)
		}
	case ModelError:
		if item.terminal() {
			return
		}
		item.Status = StatusError
		item.TotalMs = ev.TotalMs
		item.ErrMessage = ev.Message
	}
}

func (it *Item) appendRaw(text string) {
	if text == "" || it.Truncated {
		return
	}
	room := MaxRawBytes - len(it.Raw)
	if room <= 0 {
		it.Truncated = true
		return
	}
	if len(text) > room {
		text = clipRunes(text, room)
		it.Truncated = true
	}
	it.Raw += text
	if len(it.Preview) < MaxPreviewBytes {
		it.Preview = clipRunes(it.Raw, MaxPreviewBytes)
	}
}

// clipRunes truncates s to at most n bytes, backing off to the previous
// rune boundary so a multi-byte character is never split.
func clipRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Clone returns a deep copy safe to hand to observers while the stream
// loop keeps mutating the original.
func (s *State) Clone() *State {
	out := &State{
		Items:    make(map[string]*Item, len(s.Items)),
		Order:    append([]string(nil), s.Order...),
		Finished: s.Finished,
		Failed:   s.Failed,
		ErrMsg:   s.ErrMsg,
		ErrCode:  s.ErrCode,
	}
	for id, item := range s.Items {
		copied := *item
		out.Items[id] = &copied
	}
	return out
}

// Ordered returns items in arrival order.
func (s *State) Ordered() []*Item {
	out := make([]*Item, 0, len(s.Order))
	for _, id := range s.Order {
		if item, ok := s.Items[id]; ok {
			out = append(out, item)
		}
	}
	return out
}
