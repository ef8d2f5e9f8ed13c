package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"aeron/internal/archive"
	"aeron/internal/cnc"
	"aeron/internal/driver"
	"aeron/internal/errorlog"
	"aeron/internal/memmap"
)

func main() {
	dir := flag.String("dir", "", "aeron directory (default: the driver default)")
	since := flag.Int64("since", 0, "only report errors observed at or after this epoch-ms timestamp")
	record := flag.String("record", "", "snapshot the error log into this sqlite archive catalog")
	flag.Parse()

	aeronDir := *dir
	if aeronDir == "" {
		ctx, err := driver.NewContext()
		if err != nil {
			log.Fatalf("resolve aeron dir: %v", err)
		}
		aeronDir = ctx.AeronDir
	}

	file, err := memmap.Map(filepath.Join(aeronDir, cnc.File))
	if err != nil {
		log.Fatalf("map cnc file: %v", err)
	}
	defer file.Close()

	meta, err := cnc.ReadMetadata(file.Data)
	if err != nil {
		log.Fatalf("read cnc metadata: %v", err)
	}
	layout := cnc.Layout{Meta: meta}

	fmt.Printf("cnc version %d, file %d bytes\n", cnc.Version, len(file.Data))
	fmt.Printf("  to-driver: %d  to-clients: %d\n", meta.ToDriverBufferLength, meta.ToClientsBufferLength)
	fmt.Printf("  counters meta/values: %d/%d  error log: %d\n",
		meta.CounterMetadataBufferLength, meta.CounterValuesBufferLength, meta.ErrorLogBufferLength)
	fmt.Printf("  client liveness timeout: %s\n", time.Duration(meta.ClientLivenessTimeoutNs))

	var snapshot []archive.ErrorRecord
	entries := errorlog.Read(layout.ErrorLogBuffer(file.Data),
		func(count int32, first, last int64, encoded string) {
			fmt.Printf("%d observations %s to %s: %s\n",
				count, time.UnixMilli(first).Format(time.RFC3339), time.UnixMilli(last).Format(time.RFC3339), encoded)
			snapshot = append(snapshot, archive.ErrorRecord{
				ObservationCount:   count,
				FirstObservationMs: first,
				LastObservationMs:  last,
				EncodedError:       encoded,
			})
		}, *since)
	fmt.Printf("%d distinct errors\n", entries)

	if *record != "" && len(snapshot) > 0 {
		catalog, err := archive.Open(*record)
		if err != nil {
			log.Fatalf("open archive catalog: %v", err)
		}
		defer catalog.Close()
		if err := catalog.RecordErrors(time.Now().UnixMilli(), snapshot); err != nil {
			log.Fatalf("record errors: %v", err)
		}
	}
}
