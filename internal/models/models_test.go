package models

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestParseChatRef(t *testing.T) {
	cases := []struct {
		in   string
		want ChatRef
		ok   bool
	}{
		{"-1001234567890", ChatRef{ID: -1001234567890}, true},
		{" 42 ", ChatRef{ID: 42}, true},
		{"@karaoke_logs", ChatRef{Username: "@karaoke_logs"}, true},
		{"karaoke_logs", ChatRef{Username: "@karaoke_logs"}, true},
		{"@", ChatRef{}, false},
		{"", ChatRef{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			g := NewWithT(t)
			got, ok := ParseChatRef(tc.in)
			g.Expect(ok).To(Equal(tc.ok))
			g.Expect(got).To(Equal(tc.want))
		})
	}
}

func TestNewMediaRequestCopiesMedia(t *testing.T) {
	g := NewWithT(t)
	in := Inbound{ChatID: 1, MessageID: 2, Media: &Media{FileID: "a", Size: 10}}

	req := NewMediaRequest(in)
	in.Media.Size = 99

	g.Expect(req.Media.Size).To(Equal(int64(10)))
	g.Expect(req.CorrelationID).NotTo(BeEmpty())
	g.Expect(req.ReceivedAt).NotTo(BeZero())
	g.Expect(NewMediaRequest(in).CorrelationID).NotTo(Equal(req.CorrelationID))
}

func TestJobTransitionsStopAtTerminal(t *testing.T) {
	g := NewWithT(t)
	job := NewPipelineJob(NewMediaRequest(Inbound{ChatID: 1}))

	job.Transition(StateValidated)
	job.Transition(StateFailed)
	job.Transition(StateCleaned)

	g.Expect(job.State).To(Equal(StateFailed))
	g.Expect(job.History).To(Equal([]JobState{StateReceived, StateValidated, StateFailed}))
	g.Expect(job.Entered(StateDownloading)).To(BeFalse())
	g.Expect(job.FinishedAt).NotTo(BeZero())
	g.Expect(job.Duration()).To(BeNumerically(">=", 0))
}

func TestEventKindString(t *testing.T) {
	g := NewWithT(t)
	g.Expect(EventStartCommand.String()).To(Equal("start_command"))
	g.Expect(EventMediaMessage.String()).To(Equal("media_message"))
	g.Expect(EventUnhandled.String()).To(Equal("unhandled"))
}
