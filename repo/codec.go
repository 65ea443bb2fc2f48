package repo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pierrec/lz4"
)

// lz4FrameMagic is the little-endian LZ4 frame magic number 0x184D2204.
var lz4FrameMagic = []byte{0x04, 0x22, 0x4d, 0x18}

type document struct {
	Settings *Settings  `json:"settings"`
	Tables   []tableDoc `json:"tables"`
}

type tableDoc struct {
	Name   string   `json:"name"`
	Fields []Field  `json:"fields"`
	Rows   []rowDoc `json:"rows"`
}

type rowDoc struct {
	ID     uuid.UUID      `json:"id"`
	Values map[string]any `json:"values"`
}

func encodeAsset(doc *document, format Format) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	if format == FormatBinary {
		return compressLZ4(data)
	}
	return data, nil
}

// decodeAsset accepts either format; binary assets are recognised by the LZ4
// frame magic, not by the format recorded inside them.
func decodeAsset(data []byte) (*document, error) {
	if bytes.HasPrefix(data, lz4FrameMagic) {
		var err error
		if data, err = decompressLZ4(data); err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	doc := &document{}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return doc, nil
}

func readAsset(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeAsset(data)
}

// writeAsset writes to a temp file in the same directory and renames it over path.
func writeAsset(path string, doc *document, format Format) error {
	data, err := encodeAsset(doc, format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsBinaryAsset reports whether the file at path is LZ4-framed.
func IsBinaryAsset(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(lz4FrameMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false, nil
	}
	return bytes.Equal(head, lz4FrameMagic), nil
}
