package core

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"testing"
)

func generateTestCSV(rows int) []byte {
	var buf bytes.Buffer
	buf.WriteString("id,name,amount,active,created\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&buf, "%d,Customer %d,%d.%02d,%t,2024-01-%02d\n",
			i, i, i*10, i%100, i%2 == 0, i%28+1)
	}
	return buf.Bytes()
}

func generateTestJSON(rows int) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < rows; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `{"id":%d,"name":"Customer %d","amount":%d.5,"active":%t}`,
			i, i, i, i%2 == 0)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func benchmarkParse(b *testing.B, name string, data []byte) {
	p := NewParser(100, 0)
	ctx := context.Background()

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Parse(ctx, File{Name: name, Reader: bytes.NewReader(data)}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseCSV(b *testing.B)       { benchmarkParse(b, "b.csv", generateTestCSV(1000)) }
func BenchmarkParseCSV_Large(b *testing.B) { benchmarkParse(b, "b.csv", generateTestCSV(100000)) }
func BenchmarkParseJSON(b *testing.B)      { benchmarkParse(b, "b.json", generateTestJSON(1000)) }

func BenchmarkInferColumnType(b *testing.B) {
	sample := make([]any, DefaultSampleSize)
	for i := range sample {
		sample[i] = "2024-01-" + strconv.Itoa(10+i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		InferColumnType(sample)
	}
}
