package mqtt

import (
	"testing"

	"github.com/mikey-austin/kodi_remote/pkg/bus"
)

type replyMessage struct {
	payload []byte
}

func (m replyMessage) Duplicate() bool   { return false }
func (m replyMessage) Qos() byte         { return 1 }
func (m replyMessage) Retained() bool    { return false }
func (m replyMessage) Topic() string     { return "kr/v1/reply/test" }
func (m replyMessage) MessageID() uint16 { return 0 }
func (m replyMessage) Payload() []byte   { return m.payload }
func (m replyMessage) Ack()              {}

func TestHandleReplyRoutesByID(t *testing.T) {
	c := &Client{replyHandlers: map[string]chan bus.ReplyEnvelope{}}
	ch := make(chan bus.ReplyEnvelope, 1)
	c.replyHandlers["abc"] = ch

	c.handleReply(nil, replyMessage{payload: []byte(`not json`)})
	c.handleReply(nil, replyMessage{payload: []byte(`{"id":"other","type":"state.get","ok":true,"ts":1}`)})
	select {
	case reply := <-ch:
		t.Fatalf("unexpected reply %+v", reply)
	default:
	}

	c.handleReply(nil, replyMessage{payload: []byte(`{"id":"abc","type":"playback.toggle","ok":false,"ts":1,"err":{"code":"UNAVAILABLE","message":"kodi is sleeping"}}`)})
	select {
	case reply := <-ch:
		if reply.OK || reply.Err == nil || reply.Err.Code != bus.CodeUnavailable {
			t.Fatalf("unexpected reply %+v", reply)
		}
	default:
		t.Fatalf("expected reply for abc")
	}

	// a duplicate must not block when nobody is reading
	c.handleReply(nil, replyMessage{payload: []byte(`{"id":"abc","type":"playback.toggle","ok":true,"ts":1}`)})
	c.handleReply(nil, replyMessage{payload: []byte(`{"id":"abc","type":"playback.toggle","ok":true,"ts":2}`)})
}
