package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/myaa/internal/domain"
)

func writeCharacter(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestCharactersLoad(t *testing.T) {
	dir := t.TempDir()
	writeCharacter(t, dir, "myaa.yaml", "name: Myaa\ndescription: |\n  A cheerful cat.\n")
	writeCharacter(t, dir, "nameless.yaml", "description: no name here\n")

	chars := NewCharacters(dir)

	ch, err := chars.Load("myaa")
	require.NoError(t, err)
	assert.Equal(t, "myaa", ch.ID)
	assert.Equal(t, "Myaa", ch.Name)
	assert.Equal(t, "A cheerful cat.\n", ch.Description)

	ch, err = chars.Load("nameless")
	require.NoError(t, err)
	assert.Equal(t, "nameless", ch.Name)

	_, err = chars.Load("ghost")
	assert.True(t, errors.Is(err, ErrCharacterNotFound))

	_, err = chars.Load("../etc/passwd")
	assert.Error(t, err)
}

func TestCharactersLoadIsCached(t *testing.T) {
	dir := t.TempDir()
	writeCharacter(t, dir, "myaa.yaml", "name: Myaa\n")
	chars := NewCharacters(dir)

	first, err := chars.Load("myaa")
	require.NoError(t, err)

	writeCharacter(t, dir, "myaa.yaml", "name: Changed\n")
	second, err := chars.Load("myaa")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "Myaa", second.Name)
}

func TestCharactersRejectsNonMapping(t *testing.T) {
	dir := t.TempDir()
	writeCharacter(t, dir, "list.yaml", "- a\n- b\n")

	_, err := NewCharacters(dir).Load("list")
	assert.Error(t, err)
}

func TestCharactersDisplayNameFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeCharacter(t, dir, "myaa.yaml", "name: Myaa\n")
	chars := NewCharacters(dir)

	assert.Equal(t, "Myaa", chars.DisplayName("myaa"))
	assert.Equal(t, "ghost", chars.DisplayName("ghost"))
}

func TestCharactersAvailable(t *testing.T) {
	dir := t.TempDir()
	writeCharacter(t, dir, "b.yaml", "name: B\n")
	writeCharacter(t, dir, "a.yaml", "name: A\n")
	writeCharacter(t, dir, "_template.yaml", "name: T\n")
	writeCharacter(t, dir, "notes.txt", "ignored")

	ids, err := NewCharacters(dir).Available()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestFormatterFormat(t *testing.T) {
	dir := t.TempDir()
	writeCharacter(t, dir, "myaa.yaml", "name: Myaa\ndescription: \"  A cat.  \"\n")
	f := NewFormatter(NewCharacters(dir), "myaa", nil)

	now := time.Now()
	state := domain.NewAgentState(domain.Message{Speaker: "alice", Content: "hi"}, "", now)
	state.AddMessage(domain.Message{Speaker: "bot", Content: "hello"}, now)
	state.AddMessage(domain.Message{Speaker: "alice", Content: "bye"}, now)

	req := f.Format(state)

	assert.Equal(t, "myaa", req.ResponderID)
	assert.Equal(t, "Myaa", req.ResponderName)
	assert.Equal(t, "You are playing the role of 'Myaa'.", req.RoleInstruction)
	assert.Equal(t, DefaultFormatInstruction, req.FormatInstruction)
	assert.Equal(t, "A cat.", req.ResponderDescription)
	assert.Equal(t, []string{"alice: hi", "bot: hello", "alice: bye"}, req.DialogueLines)
	assert.Equal(t, domain.Message{Speaker: "alice", Content: "bye"}, req.Current)
	assert.Contains(t, req.Text(), "Conversation so far:\nalice: hi\nbot: hello\nalice: bye\n")
}

func TestFormatterUsesStateResponder(t *testing.T) {
	dir := t.TempDir()
	writeCharacter(t, dir, "neko.yaml", "name: Neko\n")
	f := NewFormatter(NewCharacters(dir), "myaa", nil).WithFormatInstruction("Reply in English.")

	state := domain.NewAgentState(domain.Message{Speaker: "alice", Content: "hi"}, "neko", time.Now())
	req := f.Format(state)

	assert.Equal(t, "neko", req.ResponderID)
	assert.Equal(t, "Neko", req.ResponderName)
	assert.Equal(t, "Reply in English.", req.FormatInstruction)
}

func TestFormatterMissingCharacterUsesBareID(t *testing.T) {
	f := NewFormatter(NewCharacters(t.TempDir()), "ghost", nil)
	state := domain.NewAgentState(domain.Message{Speaker: "alice", Content: "hi"}, "", time.Now())

	req := f.Format(state)

	assert.Equal(t, "ghost", req.ResponderName)
	assert.Empty(t, req.ResponderDescription)
	assert.Equal(t, []string{"alice: hi"}, req.DialogueLines)
}
