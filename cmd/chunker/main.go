package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/docker/go-units"

	"github.com/blindsend/blindsend/internal/chunker"
	"github.com/blindsend/blindsend/internal/crypto"
)

func main() {
	chunkSize := flag.String("chunk-size", "0", "Chunk size, e.g. 4096 or 4MiB (0: single chunk)")
	output := flag.String("output", "", "Output plan to file (default: stdout)")
	pretty := flag.Bool("pretty", true, "Pretty-print JSON output")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: chunker [options] <file_path>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Prints the upload chunk plan for the file's encrypted envelope.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	filePath := flag.Arg(0)
	info, err := os.Stat(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	size, err := units.RAMInBytes(*chunkSize)
	if err != nil || size < 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid chunk size %q\n", *chunkSize)
		os.Exit(2)
	}

	// The relay stores nonce || ciphertext || tag, not the plaintext.
	envelope := crypto.EnvelopeSize(info.Size())
	manifest, err := chunker.ComputeManifest(envelope, chunker.ChunkOptions{ChunkSize: size})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing plan: %v\n", err)
		os.Exit(3)
	}

	fmt.Fprintf(os.Stderr, "File size: %s\n", units.BytesSize(float64(info.Size())))
	fmt.Fprintf(os.Stderr, "Envelope size: %d bytes\n", manifest.TotalSize)
	fmt.Fprintf(os.Stderr, "Chunk size: %d bytes\n", manifest.ChunkSize)
	fmt.Fprintf(os.Stderr, "Chunks: %d\n\n", manifest.ChunkCount)

	var jsonData []byte
	if *pretty {
		jsonData, err = json.MarshalIndent(manifest, "", "  ")
	} else {
		jsonData, err = json.Marshal(manifest)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serializing plan: %v\n", err)
		os.Exit(4)
	}

	if *output != "" {
		if err := os.WriteFile(*output, jsonData, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
			os.Exit(5)
		}
		fmt.Fprintf(os.Stderr, "Plan written to: %s\n", *output)
	} else {
		fmt.Println(string(jsonData))
	}
}
