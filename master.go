// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mstp

import (
	"github.com/ZaparooProject/go-mstp/internal/syncutil"
)

// MasterState is the state of the master node state machine.
type MasterState uint8

// Master states
const (
	StateInitialize MasterState = iota
	StateIdle
	StateUseToken
	StateWaitForReply
	StateDoneWithToken
	StatePassToken
	StateNoToken
	StatePollForMaster
	StateAnswerDataRequest
)

func (s MasterState) String() string {
	switch s {
	case StateInitialize:
		return "Initialize"
	case StateIdle:
		return "Idle"
	case StateUseToken:
		return "UseToken"
	case StateWaitForReply:
		return "WaitForReply"
	case StateDoneWithToken:
		return "DoneWithToken"
	case StatePassToken:
		return "PassToken"
	case StateNoToken:
		return "NoToken"
	case StatePollForMaster:
		return "PollForMaster"
	case StateAnswerDataRequest:
		return "AnswerDataRequest"
	default:
		return "Unknown"
	}
}

// NodeStats counts protocol events seen by a node.
type NodeStats struct {
	FramesSent         uint64
	SendErrors         uint64
	FramesDelivered    uint64
	TokensReceived     uint64
	TokensPassed       uint64
	TokenRetries       uint64
	PollsSent          uint64
	LostTokens         uint64
	TokenRegenerations uint64
	SoleMasterDeclared uint64
	ReplyTimeouts      uint64
	RepliesPostponed   uint64
	UnexpectedFrames   uint64
}

// Node is the master node state machine. It owns the token-passing state for
// one station and reaches the wire only through its FrameSender.
//
// Step, FrameReceived, InvalidFrameReceived and NoteActivity must be called
// from one goroutine at a time (Station does this). Reply is safe to call from
// any goroutine.
type Node struct {
	sender  FrameSender
	outbox  *Outbox
	handler Handler

	// rxFrame and rxInvalid are the single-slot receive flags. They are set
	// by the receive side and cleared by the state that consumes them.
	rxFrame *Frame
	// awaiting is the request sent from UseToken while in WaitForReply.
	awaiting *Frame

	// request and reply are guarded by replyMu.
	request *Frame
	reply   *Frame

	stats NodeStats

	maxInfoFrames int
	npoll         int
	retryToken    int
	minOctets     int

	tokenCount int
	frameCount int
	retryCount int
	eventCount int

	replyMu syncutil.Mutex
	th      thresholds

	state       MasterState
	station     Address
	maxMaster   Address
	nextStation Address
	pollStation Address

	soleMaster        bool
	rxInvalid         bool
	acceptProprietary bool
}

// NewNode returns a node in the Initialize state. outbox may be nil for a
// node that never originates data.
func NewNode(cfg *Config, sender FrameSender, outbox *Outbox) *Node {
	return &Node{
		sender:            sender,
		outbox:            outbox,
		th:                cfg.thresholds(),
		station:           cfg.Station,
		maxMaster:         cfg.MaxMaster,
		maxInfoFrames:     cfg.MaxInfoFrames,
		npoll:             cfg.Npoll,
		retryToken:        cfg.RetryToken,
		minOctets:         cfg.MinOctets,
		acceptProprietary: cfg.AcceptProprietary,
		state:             StateInitialize,
	}
}

// SetHandler sets the upper-layer receiver of delivered frames.
func (n *Node) SetHandler(h Handler) {
	n.handler = h
}

// State returns the current master state.
func (n *Node) State() MasterState {
	return n.state
}

// Station returns this node's address.
func (n *Node) Station() Address {
	return n.station
}

// NextStation returns the token successor. It equals Station while no
// successor is known.
func (n *Node) NextStation() Address {
	return n.nextStation
}

// PollStation returns the address most recently polled for a master.
func (n *Node) PollStation() Address {
	return n.pollStation
}

// SoleMaster reports whether the node believes it is the only master.
func (n *Node) SoleMaster() bool {
	return n.soleMaster
}

// Stats returns a copy of the event counters.
func (n *Node) Stats() NodeStats {
	return n.stats
}

// FrameReceived hands a valid frame to the node. A frame not yet consumed is
// replaced.
func (n *Node) FrameReceived(f *Frame) {
	n.rxFrame = f
}

// InvalidFrameReceived reports a damaged or aborted frame.
func (n *Node) InvalidFrameReceived() {
	n.rxInvalid = true
}

// NoteActivity records one received octet or line error.
func (n *Node) NoteActivity() {
	n.eventCount++
}

// Reply answers the pending Data-Expecting-Reply request. It is sent if the
// node reaches it within the reply delay; otherwise Reply-Postponed goes out
// and the answer must be queued with the outbox later.
func (n *Node) Reply(frameType FrameType, data []byte) error {
	if !frameType.IsData() ||
		frameType == FrameTypeBACnetDataExpectingReply || frameType == FrameTypeTestRequest {
		return ErrInvalidFrameType
	}
	f := &Frame{Type: frameType, Source: n.station}
	if len(data) > 0 {
		f.Data = append([]byte(nil), data...)
	}
	if err := f.Validate(); err != nil {
		return err
	}

	n.replyMu.Lock()
	defer n.replyMu.Unlock()
	if n.request == nil || n.request.Type != FrameTypeBACnetDataExpectingReply {
		return ErrNoPendingReply
	}
	if n.reply != nil {
		return ErrReplyPending
	}
	f.Destination = n.request.Source
	n.reply = f
	return nil
}

// Step performs at most one transition.
func (n *Node) Step(t *Timers) {
	prev := n.state
	switch n.state {
	case StateInitialize:
		n.initialize()
	case StateIdle:
		n.idle(t)
	case StateUseToken:
		n.useToken(t)
	case StateWaitForReply:
		n.waitForReply(t)
	case StateDoneWithToken:
		n.doneWithToken(t)
	case StatePassToken:
		n.passToken(t)
	case StateNoToken:
		n.noToken(t)
	case StatePollForMaster:
		n.pollForMaster(t)
	case StateAnswerDataRequest:
		n.answerDataRequest(t)
	default:
		n.state = StateIdle
	}
	if n.state != prev {
		debugEvent().
			Uint8("station", uint8(n.station)).
			Stringer("from", prev).
			Stringer("to", n.state).
			Uint16("silence", t.Silence()).
			Msg("mstp state")
	}
}

func (n *Node) initialize() {
	n.nextStation = n.station
	n.pollStation = n.station
	// poll for masters on the first token
	n.tokenCount = n.npoll
	n.soleMaster = false
	n.rxFrame = nil
	n.rxInvalid = false
	n.state = StateIdle
}

func (n *Node) idle(t *Timers) {
	if t.Silence() >= n.th.noToken {
		// stale activity from before the silence must not count as a lower
		// node answering in NoToken
		n.eventCount = 0
		n.stats.LostTokens++
		debugEvent().Uint8("station", uint8(n.station)).Msg("mstp token lost")
		n.state = StateNoToken
		return
	}
	if n.rxInvalid {
		n.rxInvalid = false
		return
	}
	f := n.takeFrame()
	if f == nil {
		return
	}

	toUs := f.Destination == n.station
	broadcast := f.Destination == BroadcastAddress
	switch {
	case !toUs && !broadcast:
	case broadcast && f.ExpectsReply(), broadcast && f.Type == FrameTypeToken:
	case !n.known(f.Type):
	case toUs && f.Type == FrameTypeToken:
		n.frameCount = 0
		n.soleMaster = false
		n.stats.TokensReceived++
		n.state = StateUseToken
	case toUs && f.Type == FrameTypePollForMaster:
		n.send(t, FrameTypeReplyToPollForMaster, f.Source, nil)
	case f.Type == FrameTypeBACnetDataNotExpectingReply,
		f.Type == FrameTypeTestResponse,
		f.Type.IsProprietary():
		n.deliver(f)
	case toUs && (f.Type == FrameTypeBACnetDataExpectingReply || f.Type == FrameTypeTestRequest):
		t.ResetReplyPostponed()
		n.replyMu.Lock()
		n.request = f
		n.reply = nil
		n.replyMu.Unlock()
		if f.Type == FrameTypeBACnetDataExpectingReply {
			n.deliver(f)
		}
		n.state = StateAnswerDataRequest
	}
}

// known reports whether t is a frame type this node handles.
func (n *Node) known(t FrameType) bool {
	if t.IsProprietary() {
		return n.acceptProprietary
	}
	return t <= FrameTypeReplyPostponed
}

func (n *Node) useToken(t *Timers) {
	var f *Frame
	if n.outbox != nil {
		f = n.outbox.Dequeue()
	}
	if f == nil {
		n.frameCount = n.maxInfoFrames
		n.state = StateDoneWithToken
		return
	}

	f.Source = n.station
	n.transmit(t, f)
	n.frameCount++
	if f.ExpectsReply() {
		n.awaiting = f
		n.state = StateWaitForReply
		return
	}
	n.state = StateDoneWithToken
}

func (n *Node) waitForReply(t *Timers) {
	if t.Silence() >= n.th.replyTimeout {
		// the token is passed regardless of frameCount
		n.frameCount = n.maxInfoFrames
		n.stats.ReplyTimeouts++
		n.awaiting = nil
		n.state = StateDoneWithToken
		return
	}
	if n.rxInvalid {
		n.rxInvalid = false
		n.awaiting = nil
		n.state = StateDoneWithToken
		return
	}
	f := n.takeFrame()
	if f == nil {
		return
	}

	toUs := f.Destination == n.station
	switch {
	case toUs && n.isReplyTo(n.awaiting, f):
		n.deliver(f)
		n.state = StateDoneWithToken
	case toUs && f.Type == FrameTypeReplyPostponed:
		n.state = StateDoneWithToken
	default:
		// another station is transmitting: there may be two tokens, so
		// drop this one and resynchronize
		n.stats.UnexpectedFrames++
		debugEvent().
			Uint8("station", uint8(n.station)).
			Stringer("frame", f).
			Msg("mstp unexpected frame while waiting for reply")
		n.state = StateIdle
	}
	n.awaiting = nil
}

func (*Node) isReplyTo(req, f *Frame) bool {
	if req == nil {
		return false
	}
	switch req.Type {
	case FrameTypeBACnetDataExpectingReply:
		return f.Type == FrameTypeBACnetDataNotExpectingReply
	case FrameTypeTestRequest:
		return f.Type == FrameTypeTestResponse
	default:
		return req.Type.IsProprietary() && f.Type.IsProprietary()
	}
}

func (n *Node) doneWithToken(t *Timers) {
	switch {
	case n.frameCount < n.maxInfoFrames:
		n.state = StateUseToken

	case n.tokenCount < n.npoll && n.soleMaster:
		// nobody to pass the token to
		n.frameCount = 0
		n.tokenCount++
		n.state = StateUseToken

	case n.nextStation != n.station &&
		((n.tokenCount < n.npoll && !n.soleMaster) || n.nextStation == n.nextAddress(n.station)):
		// no gap between TS and NS means there is nobody to poll for
		n.tokenCount++
		n.passTokenTo(t)

	case n.nextAddress(n.pollStation) != n.nextStation:
		n.pollStation = n.nextAddress(n.pollStation)
		n.pollFor(t)
		n.state = StatePollForMaster

	case !n.soleMaster && n.nextStation != n.station:
		n.pollStation = n.station
		n.tokenCount = 0
		n.passTokenTo(t)

	default:
		n.pollStation = n.nextAddress(n.nextStation)
		n.pollFor(t)
		n.nextStation = n.station
		n.tokenCount = 0
		n.eventCount = 0
		n.state = StatePollForMaster
	}
}

func (n *Node) passToken(t *Timers) {
	silence := t.Silence()
	switch {
	case silence < n.th.usageTimeout && n.eventCount > n.minOctets:
		// the successor is using the token
		n.state = StateIdle

	case silence >= n.th.usageTimeout && n.retryCount < n.retryToken:
		n.retryCount++
		n.stats.TokenRetries++
		n.send(t, FrameTypeToken, n.nextStation, nil)
		n.eventCount = 0

	case silence >= n.th.usageTimeout:
		debugEvent().
			Uint8("station", uint8(n.station)).
			Uint8("next", uint8(n.nextStation)).
			Msg("mstp successor failed, polling for a new one")
		n.pollStation = n.nextAddress(n.nextStation)
		n.pollFor(t)
		n.nextStation = n.station
		n.tokenCount = 0
		n.eventCount = 0
		n.state = StatePollForMaster
	}
}

func (n *Node) noToken(t *Timers) {
	silence := int(t.Silence())
	slot := int(n.th.noToken) + int(n.th.slot)*int(n.station)
	switch {
	case silence < slot && n.eventCount > n.minOctets:
		// a lower address is alive
		n.state = StateIdle

	case silence >= slot:
		n.stats.TokenRegenerations++
		debugEvent().
			Uint8("station", uint8(n.station)).
			Int("silence", silence).
			Msg("mstp generating token")
		n.pollStation = n.nextAddress(n.station)
		n.pollFor(t)
		n.nextStation = n.station
		n.tokenCount = 0
		n.eventCount = 0
		n.state = StatePollForMaster
	}
}

func (n *Node) pollForMaster(t *Timers) {
	if f := n.takeFrame(); f != nil {
		if f.Destination == n.station && f.Type == FrameTypeReplyToPollForMaster {
			n.soleMaster = false
			n.nextStation = f.Source
			n.pollStation = n.station
			n.tokenCount = 0
			debugEvent().
				Uint8("station", uint8(n.station)).
				Uint8("next", uint8(n.nextStation)).
				Msg("mstp found successor")
			n.passTokenTo(t)
			return
		}
		n.stats.UnexpectedFrames++
		n.state = StateIdle
		return
	}

	if t.Silence() < n.th.usageTimeout && !n.rxInvalid {
		return
	}
	n.rxInvalid = false

	switch {
	case n.soleMaster:
		n.frameCount = 0
		n.state = StateUseToken

	case n.nextStation != n.station:
		// the maintenance poll went unanswered; keep the known successor
		n.passTokenTo(t)

	case n.nextAddress(n.pollStation) != n.station:
		n.pollStation = n.nextAddress(n.pollStation)
		n.pollFor(t)

	default:
		n.soleMaster = true
		n.frameCount = 0
		n.stats.SoleMasterDeclared++
		debugEvent().Uint8("station", uint8(n.station)).Msg("mstp sole master")
		n.state = StateUseToken
	}
}

func (n *Node) answerDataRequest(t *Timers) {
	n.replyMu.Lock()
	req, reply := n.request, n.reply
	n.replyMu.Unlock()

	if req == nil {
		n.state = StateIdle
		return
	}

	if t.ReplyPostponed() <= n.th.replyDelay {
		switch {
		case req.Type == FrameTypeTestRequest:
			// a truncated request is answered without data
			n.send(t, FrameTypeTestResponse, req.Source, req.Data)
		case reply != nil:
			n.transmit(t, reply)
		default:
			return
		}
	} else {
		n.stats.RepliesPostponed++
		n.send(t, FrameTypeReplyPostponed, req.Source, nil)
	}

	n.replyMu.Lock()
	n.request = nil
	n.reply = nil
	n.replyMu.Unlock()
	n.state = StateIdle
}

// passTokenTo sends the token to the successor and enters PassToken.
func (n *Node) passTokenTo(t *Timers) {
	n.stats.TokensPassed++
	n.send(t, FrameTypeToken, n.nextStation, nil)
	n.retryCount = 0
	n.eventCount = 0
	n.state = StatePassToken
}

// pollFor sends Poll-For-Master to the current poll station.
func (n *Node) pollFor(t *Timers) {
	n.stats.PollsSent++
	n.send(t, FrameTypePollForMaster, n.pollStation, nil)
	n.retryCount = 0
}

func (n *Node) takeFrame() *Frame {
	f := n.rxFrame
	n.rxFrame = nil
	return f
}

func (n *Node) deliver(f *Frame) {
	n.stats.FramesDelivered++
	if n.handler != nil {
		n.handler.HandleFrame(f)
	}
}

func (n *Node) send(t *Timers, frameType FrameType, destination Address, data []byte) {
	n.transmit(t, &Frame{Type: frameType, Destination: destination, Source: n.station, Data: data})
}

// transmit hands f to the line. The silence timer restarts either way: the
// line was driven (or an attempt was made) and a failed send is recovered by
// the normal timeouts.
func (n *Node) transmit(t *Timers, f *Frame) {
	if err := n.sender.SendFrame(f); err != nil {
		n.stats.SendErrors++
		debugEvent().
			Uint8("station", uint8(n.station)).
			Stringer("frame", f).
			Err(err).
			Msg("mstp send failed")
	} else {
		n.stats.FramesSent++
	}
	t.ResetSilence()
}

// nextAddress returns (a+1) mod (MaxMaster+1).
func (n *Node) nextAddress(a Address) Address {
	return Address((int(a) + 1) % (int(n.maxMaster) + 1))
}
