package turns

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAudioData_PlainBase64(t *testing.T) {
	in, err := DecodeAudioData(base64.StdEncoding.EncodeToString([]byte("RIFF")))
	require.NoError(t, err)
	assert.Equal(t, InputKindAudio, in.Kind)
	assert.Equal(t, []byte("RIFF"), in.Audio)
	assert.Equal(t, "wav", in.Encoding)
}

func TestDecodeAudioData_StripsDataURIPrefix(t *testing.T) {
	data := "data:audio/webm;codecs=opus;base64," + base64.StdEncoding.EncodeToString([]byte("abc"))
	in, err := DecodeAudioData(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), in.Audio)
	assert.Equal(t, "webm", in.Encoding)
}

func TestDecodeAudioData_XWav(t *testing.T) {
	in, err := DecodeAudioData("data:audio/x-wav;base64," + base64.StdEncoding.EncodeToString([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "wav", in.Encoding)
}

func TestDecodeAudioData_InvalidIsInputError(t *testing.T) {
	_, err := DecodeAudioData("data:audio/wav;base64,!!!not-base64")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInput))

	_, err = DecodeAudioData("")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInput))
}

func TestSourceLabelFor(t *testing.T) {
	assert.Equal(t, SourceGeneralKnowledge, SourceLabelFor(""))
	assert.Equal(t, SourceGeneralKnowledge, SourceLabelFor(" \n\t"))
	assert.Equal(t, SourceKnowledgeBase, SourceLabelFor("Title: A\nContent: B"))
}

func TestPromptFlatten(t *testing.T) {
	assert.Equal(t, "sys\n\nuser", Prompt{System: "sys", User: "user"}.Flatten())
	assert.Equal(t, "user", Prompt{User: "user"}.Flatten())
	assert.Equal(t, "sys", Prompt{System: "sys"}.Flatten())
}

func TestError_HTTPStatusAndPublicMessage(t *testing.T) {
	secret := errors.New("dial https://internal.example:8443?api-key=sk-123: refused")

	cases := []struct {
		err    *Error
		status int
	}{
		{NewError(KindRateLimited, StageAdmission, nil), http.StatusTooManyRequests},
		{NewError(KindTimeout, StageRender, secret), http.StatusRequestTimeout},
		{NewError(KindBackendUnavailable, StageRetrieve, secret), http.StatusBadGateway},
		{NewError(KindInternal, StageSession, secret), http.StatusInternalServerError},
		{&Error{Kind: KindDownstream, Stage: StageGenerate, Status: 400, Detail: "bad prompt", Err: secret}, 400},
	}
	for _, c := range cases {
		assert.Equal(t, c.status, c.err.HTTPStatus(), c.err.Kind.String())
		assert.NotContains(t, c.err.PublicMessage(), "sk-123")
		assert.NotContains(t, c.err.PublicMessage(), "internal.example")
		assert.Contains(t, c.err.Error(), c.err.Kind.String())
	}

	assert.Equal(t, BusyMessage, NewError(KindRateLimited, StageAdmission, nil).PublicMessage())
	assert.Equal(t, "bad prompt", cases[4].err.PublicMessage())
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	wrapped := errors.Wrap(NewError(KindTimeout, StageRender, nil), "context")
	assert.Equal(t, KindTimeout, AsError(wrapped).Kind)

	plain := AsError(errors.New("boom"))
	assert.Equal(t, KindInternal, plain.Kind)
	assert.Equal(t, "An unexpected error occurred.", plain.PublicMessage())
}
