package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/olekukonko/tablewriter"

	"github.com/italolelis/flipcache/internal/cache"
	"github.com/italolelis/flipcache/internal/config"
)

func main() {
	tierName := flag.String("tier", "all", "Tier to list: durable, volatile, thumbnails or all")
	envFile := flag.String("env", ".env", "Optional env file with the cache settings")
	flag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatal("Error while loading config: ", err)
	}

	store, err := cache.New(context.Background(), cache.Config{
		DurableDir:  cfg.DurableRoot(),
		VolatileDir: cfg.VolatileRoot(),
	})
	if err != nil {
		log.Fatal("Error while opening store: ", err)
	}

	tiers, err := selectTiers(*tierName)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Tier", "Name", "Type", "Size", "Modified"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	var total int64

	for _, tier := range tiers {
		entries, err := store.Entries(tier)
		if err != nil {
			log.Fatal(err)
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].ModTime.After(entries[j].ModTime)
		})

		for _, e := range entries {
			kind := "unknown"
			if mt, err := mimetype.DetectFile(e.Path); err == nil {
				kind = mt.String()
			}

			table.Append([]string{
				e.Tier.String(),
				e.Name,
				kind,
				humanize.Bytes(uint64(e.Size)),
				humanize.Time(e.ModTime),
			})

			total += e.Size
		}
	}

	table.Render()

	fmt.Printf("\ntotal: %s\n", humanize.Bytes(uint64(total)))
}

func selectTiers(name string) ([]cache.Tier, error) {
	switch name {
	case "all":
		return []cache.Tier{cache.TierDurable, cache.TierVolatile, cache.TierThumbnails}, nil
	case "durable":
		return []cache.Tier{cache.TierDurable}, nil
	case "volatile":
		return []cache.Tier{cache.TierVolatile}, nil
	case "thumbnails":
		return []cache.Tier{cache.TierThumbnails}, nil
	default:
		return nil, fmt.Errorf("unknown tier %q", name)
	}
}
