package sigchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChan_EmitCoalesces(t *testing.T) {
	c := New(1)
	assert.True(t, c.Emit())
	assert.False(t, c.Emit(), "缓冲已满时合并信号")

	<-c.C()
	select {
	case <-c.C():
		t.Fatal("只应有一个信号")
	default:
	}
}
