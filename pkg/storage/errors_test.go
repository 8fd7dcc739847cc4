package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name   string
		code   Code
		locale language.Tag
		want   string
	}{
		{"english", FileDoesNotExist, language.English, "ST - Exception: File does not exist"},
		{"spanish", FileDoesNotExist, language.Spanish, "ST - Excepción: Fichero no existe"},
		{"regional spanish", DiskErrorMkdir, language.MustParse("es-MX"), "Disk: Excepción: Error creando directorio en disco"},
		{"unsupported locale falls back to english", FTPErrorLogin, language.French, "FTP - Exception: Error login user into FTP server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Message(tt.code, tt.locale)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessageUnknownCode(t *testing.T) {
	_, err := Message(Code(999), language.English)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestEveryCodeHasBothLabels(t *testing.T) {
	for code, l := range labels {
		assert.NotEmpty(t, l.en, "code %d has no english label", code)
		assert.NotEmpty(t, l.es, "code %d has no spanish label", code)
	}
}

func TestErrorMatchesCode(t *testing.T) {
	err := fmt.Errorf("saving report: %w", &Error{
		Op:   "save file",
		Path: "/upload/missing",
		Code: DirectoryDoesNotExist,
		Err:  errors.New("stat failed"),
	})

	assert.ErrorIs(t, err, DirectoryDoesNotExist)
	assert.NotErrorIs(t, err, FileDoesNotExist)
	assert.Contains(t, err.Error(), "save file /upload/missing")
	assert.Contains(t, err.Error(), "Directory does not exist")

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, DirectoryDoesNotExist, code)
}

func TestCodeOf(t *testing.T) {
	code, ok := CodeOf(nil)
	assert.True(t, ok)
	assert.Equal(t, NoErrors, code)

	code, ok = CodeOf(FTPErrorRmdir)
	assert.True(t, ok)
	assert.Equal(t, FTPErrorRmdir, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestCodeErrorString(t *testing.T) {
	assert.Equal(t, "ST - No Errors: Operation successful", NoErrors.Error())
	assert.Equal(t, "storage code 42", Code(42).Error())
}
