package storage

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// Code identifies the outcome of a storage operation
type Code int

// Base codes shared by every backend
const (
	NoErrors Code = iota
	DirectoryAlreadyExists
	FileAlreadyExists
	DirectoryDoesNotExist
	FileDoesNotExist
	DirectoryExpected
	FileExpected
	WrongConfigurationLabel
	NotConfigured
	NotConnected
	NameGenerationExhausted
)

// Disk codes
const (
	DiskErrorDelete Code = 100 + iota
	DiskErrorSave
	DiskErrorRename
	DiskErrorMkdir
	DiskErrorRmdir
	DiskErrorDirOpen
)

// FTP codes
const (
	FTPErrorOpenConn Code = 200 + iota
	FTPErrorLogin
	FTPErrorDelete
	FTPErrorGet
	FTPErrorPut
	FTPErrorRename
	FTPErrorMkdir
	FTPErrorRmdir
	FTPErrorCloseConn
)

// SFTP codes
const (
	SFTPErrorOpenConn Code = 300 + iota
	SFTPErrorLogin
	SFTPErrorDelete
	SFTPErrorGet
	SFTPErrorPut
	SFTPErrorRename
	SFTPErrorMkdir
	SFTPErrorRmdir
	SFTPErrorCloseConn
)

// S3 codes
const (
	S3ErrorOpenConn Code = 400 + iota
	S3ErrorDelete
	S3ErrorGet
	S3ErrorPut
	S3ErrorRename
	S3ErrorMkdir
	S3ErrorRmdir
)

// ErrInvalidCode is returned when a label is requested for an unregistered code
var ErrInvalidCode = errors.New("invalid storage code")

var supportedLocales = []language.Tag{language.English, language.Spanish}

var localeMatcher = language.NewMatcher(supportedLocales)

type label struct {
	en, es string
}

var labels = map[Code]label{
	NoErrors:                {"ST - No Errors: Operation successful", "ST - No Errors: Operación exitosa"},
	DirectoryAlreadyExists:  {"ST - Exception: Directory already exists", "ST - Excepción: Directorio ya existe"},
	FileAlreadyExists:       {"ST - Exception: File already exists", "ST - Excepción: Fichero ya existe"},
	DirectoryDoesNotExist:   {"ST - Exception: Directory does not exist", "ST - Excepción: Directorio no existe"},
	FileDoesNotExist:        {"ST - Exception: File does not exist", "ST - Excepción: Fichero no existe"},
	DirectoryExpected:       {"ST - Exception: Expected a directory instead of a file", "ST - Excepción: Se esperaba directorio en lugar de fichero"},
	FileExpected:            {"ST - Exception: Expected a file instead of a directory", "ST - Excepción: Se esperaba fichero en lugar de directorio"},
	WrongConfigurationLabel: {"ST - Exception: Wrong configuration label", "ST - Excepción: Etiquetas de configuración erróneas"},
	NotConfigured:           {"ST - Exception: Storage is not configured", "ST - Excepción: El almacenamiento no está configurado"},
	NotConnected:            {"ST - Exception: Storage is not connected", "ST - Excepción: El almacenamiento no está conectado"},
	NameGenerationExhausted: {"ST - Exception: Could not generate a free name", "ST - Excepción: No se pudo generar un nombre libre"},

	DiskErrorDelete:  {"Disk: Exception: Error deleting file in disk", "Disk: Excepción: Error borrando fichero en disco"},
	DiskErrorSave:    {"Disk: Exception: Error saving file in disk", "Disk: Excepción: Error guardando fichero en disco"},
	DiskErrorRename:  {"Disk: Exception: Error trying to rename directory/file in disk", "Disk: Excepción: Error intentando renombrar directorio/fichero en disco"},
	DiskErrorMkdir:   {"Disk: Exception: Error making directory in disk", "Disk: Excepción: Error creando directorio en disco"},
	DiskErrorRmdir:   {"Disk: Exception: Error deleting directory in disk", "Disk: Excepción: Error borrando directorio en disco"},
	DiskErrorDirOpen: {"Disk: Exception: Error opening directory in disk", "Disk: Excepción: Error abriendo directorio en disco"},

	FTPErrorOpenConn:  {"FTP - Exception: Error opening connection with FTP server", "FTP - Excepción: Error abriendo conexión con el servidor FTP"},
	FTPErrorLogin:     {"FTP - Exception: Error login user into FTP server", "FTP - Excepción: Error logueando al usuario en el servidor FTP"},
	FTPErrorDelete:    {"FTP - Exception: Error trying to delete file in FTP server", "FTP - Excepción: Error intentando borrar fichero en el servidor FTP"},
	FTPErrorGet:       {"FTP - Exception: Error trying to download file from FTP server", "FTP - Excepción: Error intentando descargar fichero del servidor FTP"},
	FTPErrorPut:       {"FTP - Exception: Error trying to upload file to FTP server", "FTP - Excepción: Error intentando subir fichero al servidor FTP"},
	FTPErrorRename:    {"FTP - Exception: Error trying to rename directory/file in FTP server", "FTP - Excepción: Error intentando renombrar directorio/fichero en el servidor FTP"},
	FTPErrorMkdir:     {"FTP - Exception: Error trying to create directory in FTP server", "FTP - Excepción: Error intentando crear directorio en el servidor FTP"},
	FTPErrorRmdir:     {"FTP - Exception: Error trying to delete directory in FTP server", "FTP - Excepción: Error intentando borrar directorio en el servidor FTP"},
	FTPErrorCloseConn: {"FTP - Exception: Error closing connection with FTP server", "FTP - Excepción: Error cerrando la conexión con el servidor FTP"},

	SFTPErrorOpenConn:  {"SFTP - Exception: Error opening connection with SFTP server", "SFTP - Excepción: Error abriendo conexión con el servidor SFTP"},
	SFTPErrorLogin:     {"SFTP - Exception: Error authenticating against SFTP server", "SFTP - Excepción: Error autenticando en el servidor SFTP"},
	SFTPErrorDelete:    {"SFTP - Exception: Error trying to delete file in SFTP server", "SFTP - Excepción: Error intentando borrar fichero en el servidor SFTP"},
	SFTPErrorGet:       {"SFTP - Exception: Error trying to download file from SFTP server", "SFTP - Excepción: Error intentando descargar fichero del servidor SFTP"},
	SFTPErrorPut:       {"SFTP - Exception: Error trying to upload file to SFTP server", "SFTP - Excepción: Error intentando subir fichero al servidor SFTP"},
	SFTPErrorRename:    {"SFTP - Exception: Error trying to rename directory/file in SFTP server", "SFTP - Excepción: Error intentando renombrar directorio/fichero en el servidor SFTP"},
	SFTPErrorMkdir:     {"SFTP - Exception: Error trying to create directory in SFTP server", "SFTP - Excepción: Error intentando crear directorio en el servidor SFTP"},
	SFTPErrorRmdir:     {"SFTP - Exception: Error trying to delete directory in SFTP server", "SFTP - Excepción: Error intentando borrar directorio en el servidor SFTP"},
	SFTPErrorCloseConn: {"SFTP - Exception: Error closing connection with SFTP server", "SFTP - Excepción: Error cerrando la conexión con el servidor SFTP"},

	S3ErrorOpenConn: {"S3 - Exception: Error accessing S3 bucket", "S3 - Excepción: Error accediendo al bucket S3"},
	S3ErrorDelete:   {"S3 - Exception: Error trying to delete object in S3 bucket", "S3 - Excepción: Error intentando borrar objeto en el bucket S3"},
	S3ErrorGet:      {"S3 - Exception: Error trying to download object from S3 bucket", "S3 - Excepción: Error intentando descargar objeto del bucket S3"},
	S3ErrorPut:      {"S3 - Exception: Error trying to upload object to S3 bucket", "S3 - Excepción: Error intentando subir objeto al bucket S3"},
	S3ErrorRename:   {"S3 - Exception: Error trying to move objects in S3 bucket", "S3 - Excepción: Error intentando mover objetos en el bucket S3"},
	S3ErrorMkdir:    {"S3 - Exception: Error trying to create directory in S3 bucket", "S3 - Excepción: Error intentando crear directorio en el bucket S3"},
	S3ErrorRmdir:    {"S3 - Exception: Error trying to delete directory in S3 bucket", "S3 - Excepción: Error intentando borrar directorio en el bucket S3"},
}

// Message returns the label of code in the supported locale closest to locale
func Message(code Code, locale language.Tag) (string, error) {
	l, ok := labels[code]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrInvalidCode, int(code))
	}
	_, idx, _ := localeMatcher.Match(locale)
	if supportedLocales[idx] == language.Spanish {
		return l.es, nil
	}
	return l.en, nil
}

// Error implements the error interface so a Code can be used as an errors.Is target
func (c Code) Error() string {
	msg, err := Message(c, language.English)
	if err != nil {
		return fmt.Sprintf("storage code %d", int(c))
	}
	return msg
}

// Error is returned by every failing storage operation
type Error struct {
	// Op is the operation that failed, e.g. "save file"
	Op string
	// Path is the local or remote path the operation was working on
	Path string
	// Code is the taxonomy entry recorded as the last error
	Code Code
	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Code.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Code carried by e
func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.Code
}

// CodeOf extracts the Code carried by err, or NoErrors when err is nil
func CodeOf(err error) (Code, bool) {
	if err == nil {
		return NoErrors, true
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code, true
	}
	var c Code
	if errors.As(err, &c) {
		return c, true
	}
	return 0, false
}
