package cmds

import (
	"errors"

	"github.com/IamJingZhang/pikiwidb/lib/resp"
	"github.com/IamJingZhang/pikiwidb/lib/sched"
	"github.com/IamJingZhang/pikiwidb/lib/session"
)

func multiCmd(_ *Dispatcher, s *session.Session, _ []string, _ *sched.Task) {
	if !s.BeginMulti() {
		s.Reply.SetRes(resp.RetErrOther, "MULTI calls can not be nested")
		return
	}
	s.Reply.SetRes(resp.RetOK)
}

func execCmd(d *Dispatcher, s *session.Session, _ []string, t *sched.Task) {
	if !s.IsFlagOn(session.FlagMulti) {
		s.Reply.SetRes(resp.RetErrOther, "EXEC without MULTI")
		return
	}

	// each queued command renders into a cleared reply; the sub-replies are
	// then stitched under one aggregate array header
	var parts [][]byte
	count, err := s.Exec(func(argv []string) {
		s.Reply.Clear()
		d.runQueued(s, argv, t)
		parts = append(parts, append([]byte(nil), s.Reply.Bytes()...))
	})
	s.Reply.Clear()
	s.SetCmdName("exec")
	s.SetSubCmdName("")

	switch {
	case errors.Is(err, session.ErrExecWrong):
		s.Reply.SetRes(resp.RetTxAborted)
	case errors.Is(err, session.ErrExecDirty):
		s.Reply.AppendNullArray()
	default:
		s.Reply.AppendArrayLen(int64(count))
		for _, p := range parts {
			s.Reply.AppendStringRaw(string(p))
		}
	}
}

func discardCmd(_ *Dispatcher, s *session.Session, _ []string, _ *sched.Task) {
	if !s.Discard() {
		s.Reply.SetRes(resp.RetErrOther, "DISCARD without MULTI")
		return
	}
	s.Reply.SetRes(resp.RetOK)
}

func watchCmd(_ *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	if s.IsFlagOn(session.FlagMulti) {
		s.Reply.SetRes(resp.RetErrOther, "WATCH inside MULTI is not allowed")
		return
	}
	for _, key := range argv[1:] {
		s.Watch(s.CurrentDB(), key)
	}
	s.Reply.SetRes(resp.RetOK)
}

func unwatchCmd(_ *Dispatcher, s *session.Session, _ []string, _ *sched.Task) {
	s.ClearWatch()
	s.Reply.SetRes(resp.RetOK)
}
