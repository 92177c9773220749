package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_SeekDirective(t *testing.T) {
	seek, ok := Classify([]byte("AESDCHAR_IOCSEEKTO:2,1\n"))
	assert.True(t, ok)
	assert.Equal(t, Seek{WriteCmd: 2, WriteCmdOffset: 1}, seek)
}

func TestClassify_SeekDirectiveWithoutTrailingNewline(t *testing.T) {
	seek, ok := Classify([]byte("AESDCHAR_IOCSEEKTO:0,0"))
	assert.True(t, ok)
	assert.Equal(t, Seek{WriteCmd: 0, WriteCmdOffset: 0}, seek)
}

func TestClassify_RejectsTrailingGarbage(t *testing.T) {
	_, ok := Classify([]byte("AESDCHAR_IOCSEEKTO:2,1\nextra"))
	assert.False(t, ok, "a chunk with additional bytes past the directive is not a seek")
}

func TestClassify_OrdinaryData(t *testing.T) {
	_, ok := Classify([]byte("hello\n"))
	assert.False(t, ok)
}

func TestContainsTerminator(t *testing.T) {
	assert.True(t, ContainsTerminator([]byte("ab\ncd")))
	assert.False(t, ContainsTerminator([]byte("abcd")))
}
