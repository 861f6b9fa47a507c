package montage

import (
	"errors"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
)

var _ mqtt.Client = (*MockClient)(nil)

func TestMockClient_PublishRequiresConnection(t *testing.T) {
	mc := NewMockClient()
	token := mc.Publish("t", 0, false, []byte("x"))
	assert.ErrorIs(t, token.Error(), mqtt.ErrNotConnected)
	assert.Empty(t, mc.GetPublishedMessages())

	mc.SetConnected(true)
	assert.NoError(t, mc.Publish("t", 1, true, "hello").Error())
	msgs := mc.GetPublishedMessages()
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, MockMessage{Topic: "t", Payload: []byte("hello"), QoS: 1, Retain: true}, msgs[0])
	}
}

func TestMockClient_Errors(t *testing.T) {
	mc := NewMockClient()
	mc.SetConnectError(errors.New("refused"))
	assert.Error(t, mc.Connect().Error())
	assert.False(t, mc.IsConnected())

	mc.SetConnectError(nil)
	assert.NoError(t, mc.Connect().Error())
	assert.True(t, mc.IsConnectionOpen())

	mc.SetPublishError(errors.New("full"))
	assert.EqualError(t, mc.Publish("t", 0, false, []byte("x")).Error(), "full")

	mc.Disconnect(0)
	assert.False(t, mc.IsConnected())
}

func TestMockClient_LastMessage(t *testing.T) {
	mc := NewMockClient()
	mc.SetConnected(true)
	mc.Publish("a", 0, false, []byte("1"))
	mc.Publish("b", 0, false, []byte("2"))
	mc.Publish("a", 0, false, []byte("3"))

	msg, ok := mc.LastMessage("a")
	assert.True(t, ok)
	assert.Equal(t, "3", string(msg.Payload))

	_, ok = mc.LastMessage("c")
	assert.False(t, ok)
}

func TestMockClient_RoutesAndUnsubscribe(t *testing.T) {
	mc := NewMockClient()
	var got []string
	handler := func(_ mqtt.Client, m mqtt.Message) { got = append(got, m.Topic()+":"+string(m.Payload())) }

	mc.AddRoute("x", handler)
	assert.True(t, mc.SimulateMessage("x", []byte("1")))

	mc.Unsubscribe("x")
	assert.False(t, mc.SimulateMessage("x", []byte("2")))
	assert.Equal(t, []string{"x:1"}, got)

	assert.ErrorIs(t, mc.Subscribe("y", 0, handler).Error(), mqtt.ErrNotConnected)
}

func TestMockToken(t *testing.T) {
	tok := NewMockToken(nil)
	assert.True(t, tok.Wait())
	assert.True(t, tok.WaitTimeout(0))
	select {
	case <-tok.Done():
	default:
		t.Error("Done() channel should be closed")
	}
}
