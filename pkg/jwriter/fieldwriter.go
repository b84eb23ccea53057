package jwriter

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// Report document field names shared by AddJSON's substitution object.
const (
	fieldError    = "error"
	fieldJSONData = "json_data"
)

// FieldWriter is the capability surface the report engine writes through.
// It narrows the Encoder contract to exactly the element shapes a crash
// report needs and adds blob, UUID, file and verbatim-document embedding on
// top.
type FieldWriter struct {
	enc Encoder
}

// NewFieldWriter wraps enc.
func NewFieldWriter(enc Encoder) *FieldWriter {
	return &FieldWriter{enc: enc}
}

// Err reports the first failure of the underlying encoder.
func (w *FieldWriter) Err() error { return w.enc.Err() }

func (w *FieldWriter) BeginObject(key string) { w.enc.BeginObject(key) }
func (w *FieldWriter) BeginArray(key string)  { w.enc.BeginArray(key) }
func (w *FieldWriter) End()                   { w.enc.End() }

func (w *FieldWriter) AddBool(key string, v bool)     { w.enc.AddBool(key, v) }
func (w *FieldWriter) AddInt(key string, v int64)     { w.enc.AddInt(key, v) }
func (w *FieldWriter) AddUint(key string, v uint64)   { w.enc.AddUint(key, v) }
func (w *FieldWriter) AddFloat(key string, v float64) { w.enc.AddFloat(key, v) }
func (w *FieldWriter) AddString(key, v string)        { w.enc.AddString(key, v) }

// AddUUID writes a 16-byte identifier in canonical UUID text form, or null
// when the identifier is absent.
func (w *FieldWriter) AddUUID(key string, b []byte) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		w.enc.AddNull(key)
		return
	}
	w.enc.AddString(key, u.String())
}

// AddData writes a binary blob as a base64 string element.
func (w *FieldWriter) AddData(key string, data []byte) {
	w.enc.BeginString(key)
	var buf [BufferSize]byte
	b64 := base64.StdEncoding
	for len(data) > 0 {
		n := len(data)
		if max := b64.DecodedLen(len(buf)); n > max {
			n = max
		}
		b64.Encode(buf[:b64.EncodedLen(n)], data[:n])
		w.enc.AppendString(buf[:b64.EncodedLen(n)])
		data = data[n:]
	}
	w.enc.EndString()
}

// BeginData starts a streamed binary blob element. Append with the returned
// writer, then Close it to terminate the element.
func (w *FieldWriter) BeginData(key string) io.WriteCloser {
	w.enc.BeginString(key)
	return &dataStream{w: w, b64: base64.NewEncoder(base64.StdEncoding, appendWriter{w.enc})}
}

type dataStream struct {
	w   *FieldWriter
	b64 io.WriteCloser
}

func (s *dataStream) Write(p []byte) (int, error) { return s.b64.Write(p) }

func (s *dataStream) Close() error {
	err := s.b64.Close()
	s.w.enc.EndString()
	return err
}

// appendWriter funnels base64 output into the encoder's streamed string.
type appendWriter struct{ enc Encoder }

func (a appendWriter) Write(p []byte) (int, error) {
	a.enc.AppendString(p)
	return len(p), a.enc.Err()
}

// AddTextFile streams a file's contents as a single string element without
// buffering the whole file. A file that cannot be opened is logged and
// omitted rather than failing the report.
func (w *FieldWriter) AddTextFile(key, path string) {
	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("could not open text file for report")
		return
	}
	defer f.Close()

	w.enc.BeginString(key)
	var buf [512]byte
	for {
		n, err := f.Read(buf[:])
		if n > 0 {
			w.enc.AppendString(buf[:n])
		}
		if err != nil {
			break
		}
	}
	w.enc.EndString()
}

// AddJSON splices a caller-supplied pre-formed document verbatim. Invalid
// payloads are substituted with an object carrying an explicit error and the
// offending raw text, so a bad collaborator document degrades one field, not
// the whole report.
func (w *FieldWriter) AddJSON(key string, raw []byte) {
	if !json.Valid(raw) {
		w.enc.BeginObject(key)
		w.enc.AddString(fieldError, "Invalid JSON data")
		w.enc.AddString(fieldJSONData, string(raw))
		w.enc.End()
		return
	}
	w.enc.AddRaw(key, raw)
}

// AddJSONFile embeds the contents of a document file, with the same
// invalid-payload substitution as AddJSON.
func (w *FieldWriter) AddJSONFile(key, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("could not read document file for report")
		w.enc.AddNull(key)
		return
	}
	w.AddJSON(key, raw)
}
