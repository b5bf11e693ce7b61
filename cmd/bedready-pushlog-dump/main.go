package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"bedready-go/internal/output"
)

func main() {
	var (
		path   = flag.String("path", "", "Path to push rawlog .bin file")
		limit  = flag.Int("limit", 0, "Number of records to dump (0 for all)")
		plugin = flag.String("plugin", "", "Only dump messages for this plugin")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	reader, err := output.NewRawLogReader(f)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}

	count := 0
	for index := 0; ; index++ {
		if *limit > 0 && count >= *limit {
			return
		}
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Fatalf("read record: %v", err)
		}
		if len(rec.Payload) == 0 {
			log.Printf("record %d: empty payload", index)
			continue
		}

		msg, err := output.DecodeMessage(rec.Payload)
		if err != nil {
			log.Printf("record %d: %v", index, err)
			continue
		}
		if *plugin != "" && msg.Plugin != *plugin {
			continue
		}

		pretty, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", index, err)
			continue
		}

		log.Printf("record %d timestamp=%s size=%d", index, rec.Time.Format(time.RFC3339Nano), len(rec.Payload))
		fmt.Println(string(pretty))
		count++
	}
}
