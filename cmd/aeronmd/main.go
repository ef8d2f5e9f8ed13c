package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aeron/internal/archive"
	"aeron/internal/driver"
)

func main() {
	catalogPath := flag.String("archive", "", "path to the sqlite archive catalog (disabled when empty)")
	flag.Parse()

	ctx, err := driver.NewContext()
	if err != nil {
		log.Fatalf("load context: %v", err)
	}

	var catalog driver.Catalog
	if *catalogPath != "" {
		c, err := archive.Open(*catalogPath)
		if err != nil {
			log.Fatalf("open archive catalog: %v", err)
		}
		defer c.Close()
		catalog = c
	}

	d, err := driver.Start(ctx, catalog)
	if err != nil {
		log.Fatalf("start driver: %v", err)
	}
	defer d.Close()

	log.Printf("aeronmd dir=%s cnc=%d bytes archive=%t", ctx.AeronDir, ctx.CncFileLength(), catalog != nil)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigs:
			log.Printf("shutting down on %v", sig)
			return
		default:
			if d.DoWork() == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}
}
