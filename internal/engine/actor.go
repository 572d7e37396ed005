package engine

import "log"

// commandKind tags the mailbox message variants C4 dispatches synchronously.
type commandKind int

const (
	cmdPlayFile commandKind = iota
	cmdGetMetadata
	cmdGetTimeData
	cmdGetHeadstart
	cmdGetPlaylistPath
	cmdAddListener
	cmdGetListenerCount
)

// command is the single mailbox message type. Exactly one of the reply fields is used, selected
// by kind.
type command struct {
	kind commandKind

	path string
	ch   chan EncodedFrame

	replyResult chan PlaybackResult
	replyMeta   chan *TrackMetadata
	replyTime   chan [2]uint64
	replyFrames chan []EncodedFrame
	replyPath   chan *string
	replyCount  chan int
}

// Actor owns the sole Engine instance and is the only goroutine that ever mutates it. Commands
// and packet ticks are selected together so neither starves the other for more than one packet's
// worth of wall time.
type Actor struct {
	engine *Engine
	cmdCh  chan command

	state   *PlaybackState
	replyCh chan PlaybackResult
}

// NewActor builds an Actor wrapping a fresh Engine and returns it; call Run in its own goroutine.
func NewActor(bufferSizeMs uint64) *Actor {
	return &Actor{
		engine: NewEngine(bufferSizeMs),
		cmdCh:  make(chan command, 50),
	}
}

// Run drives the actor loop until cmdCh is closed. Intended to be launched with `go a.Run()`.
func (a *Actor) Run() {
	for {
		// The packet-tick branch is only enabled (non-nil) while a track is active, which is
		// the idiomatic Go way to make one select arm conditionally disabled.
		var tick chan struct{}
		if a.state != nil {
			tick = tickSignal
		}

		select {
		case cmd, ok := <-a.cmdCh:
			if !ok {
				return
			}
			a.handleCommand(cmd)

		case <-tick:
			a.handleTick()
		}
	}
}

// tickSignal is a perpetually-ready (closed) channel used to make the "packet tick" select arm
// fire on every loop iteration whenever it is enabled. It does not throttle the loop itself: the
// pacing sleep inside ProcessNextPacket is what limits how fast ticks run.
var tickSignal = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (a *Actor) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdPlayFile:
		if a.state != nil && a.replyCh != nil {
			a.replyCh <- PlaybackResult{Kind: Interrupted}
			a.state.Close()
		}

		state, err := a.engine.StartPlayback(cmd.path)
		if err != nil {
			cmd.replyResult <- PlaybackResult{Kind: Errored, Err: err}
			a.state = nil
			a.replyCh = nil
			return
		}
		a.state = state
		a.replyCh = cmd.replyResult

	case cmdGetMetadata:
		cmd.replyMeta <- a.engine.GetMetadata()

	case cmdGetTimeData:
		start, current := a.engine.GetTimeData()
		cmd.replyTime <- [2]uint64{start, current}

	case cmdGetHeadstart:
		cmd.replyFrames <- a.engine.GetHeadstart()

	case cmdGetPlaylistPath:
		cmd.replyPath <- a.engine.GetPlaylistPath()

	case cmdAddListener:
		a.engine.AddListener(cmd.ch)

	case cmdGetListenerCount:
		cmd.replyCount <- a.engine.ListenerCount()
	}
}

func (a *Actor) handleTick() {
	result, err := a.engine.ProcessNextPacket(a.state)

	switch {
	case err == errInterrupted:
		// This track's state has already been superseded by a newer PlayFile; the old
		// reply was already sent in handleCommand. Nothing further to do here but drop it.
		a.state.Close()
		a.state = nil
		a.replyCh = nil

	case err != nil:
		if a.replyCh != nil {
			a.replyCh <- PlaybackResult{Kind: Errored, Err: err}
		}
		log.Printf("engine: track error: %v", err)
		a.state.Close()
		a.state = nil
		a.replyCh = nil

	case result == tickEOF:
		if a.replyCh != nil {
			a.replyCh <- PlaybackResult{Kind: Finished}
		}
		a.state.Close()
		a.state = nil
		a.replyCh = nil
	}
}
