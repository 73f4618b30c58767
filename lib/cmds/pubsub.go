package cmds

import (
	"path"

	"github.com/IamJingZhang/pikiwidb/lib/resp"
	"github.com/IamJingZhang/pikiwidb/lib/sched"
	"github.com/IamJingZhang/pikiwidb/lib/session"
)

// confirmSub appends the per-channel confirmation triple every subscribe
// family command replies with.
func confirmSub(s *session.Session, verb, channel string, count int) {
	s.Reply.AppendArrayLen(3)
	s.Reply.AppendString(verb)
	s.Reply.AppendString(channel)
	s.Reply.AppendInteger(int64(count))
}

func subscribeCmd(_ *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	for _, ch := range argv[1:] {
		s.Subscribe(ch)
		confirmSub(s, "subscribe", ch, s.ChannelCount()+s.PatternChannelCount())
	}
}

func unsubscribeCmd(_ *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	channels := argv[1:]
	if len(channels) == 0 {
		// no arguments drops every channel subscription
		for ch := range s.Channels() {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		confirmSub(s, "unsubscribe", "", 0)
		return
	}
	for _, ch := range channels {
		s.UnSubscribe(ch)
		confirmSub(s, "unsubscribe", ch, s.ChannelCount()+s.PatternChannelCount())
	}
}

func psubscribeCmd(_ *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	for _, pattern := range argv[1:] {
		s.PSubscribe(pattern)
		confirmSub(s, "psubscribe", pattern, s.ChannelCount()+s.PatternChannelCount())
	}
}

func punsubscribeCmd(_ *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	patterns := argv[1:]
	if len(patterns) == 0 {
		for p := range s.Patterns() {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		confirmSub(s, "punsubscribe", "", 0)
		return
	}
	for _, pattern := range patterns {
		s.PUnSubscribe(pattern)
		confirmSub(s, "punsubscribe", pattern, s.ChannelCount()+s.PatternChannelCount())
	}
}

func publishCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	channel, payload := argv[1], argv[2]
	reg := d.deps.Registry
	receivers := int64(0)

	var direct resp.Reply
	direct.AppendArrayLen(3)
	direct.AppendString("message")
	direct.AppendString(channel)
	direct.AppendString(payload)
	for _, id := range reg.Subscribers(channel) {
		if sub, ok := reg.Get(id); ok && sub.PushMessage(direct.Bytes()) {
			receivers++
		}
	}

	reg.RangePatterns(func(pattern string, ids []uint64) bool {
		if ok, err := path.Match(pattern, channel); err != nil || !ok {
			return true
		}
		var msg resp.Reply
		msg.AppendArrayLen(4)
		msg.AppendString("pmessage")
		msg.AppendString(pattern)
		msg.AppendString(channel)
		msg.AppendString(payload)
		for _, id := range ids {
			if sub, ok := reg.Get(id); ok && sub.PushMessage(msg.Bytes()) {
				receivers++
			}
		}
		return true
	})

	s.Reply.AppendInteger(receivers)
}
