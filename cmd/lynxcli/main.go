// Command lynxcli is an interactive shell over an in-process lynxdb
// database, for poking at an index without writing Go.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/lynxvec/lynxdb/pkg/distance"
	"github.com/lynxvec/lynxdb/pkg/lynxdb"
	"github.com/lynxvec/lynxdb/pkg/version"
)

func main() {
	dim := flag.Int("dim", 128, "vector dimension")
	metricName := flag.String("metric", "l2", "distance metric: l2, cosine, dot")
	indexName := flag.String("index", "hnsw", "index type: flat, hnsw, ivf")
	dataPath := flag.String("data", "", "data directory for save/load (empty disables persistence)")
	flag.Parse()

	metric := distance.ParseMetric(strings.ToLower(*metricName))

	cfg := lynxdb.DefaultConfig(*dim)
	cfg.Metric = metric
	cfg.DataPath = *dataPath
	switch strings.ToLower(*indexName) {
	case "flat":
		cfg.IndexType = lynxdb.Flat
	case "ivf":
		cfg.IndexType = lynxdb.IVF
	default:
		cfg.IndexType = lynxdb.HNSW
	}

	db, err := lynxdb.Create(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Printf("║         lynxcli v%-7s           ║\n", version.Version)
	fmt.Println("║     Type 'help' for commands          ║")
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Printf("dim=%d metric=%s index=%s\n\n", *dim, metric, *indexName)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("lynx> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])
		args := parts[1:]

		switch cmd {
		case "QUIT", "EXIT":
			fmt.Println("Bye!")
			return

		case "HELP":
			printHelp()

		case "INSERT":
			// INSERT <id> [seed]
			if len(args) < 1 {
				fmt.Println("Usage: INSERT <id> [seed]")
				continue
			}
			id, _ := strconv.ParseUint(args[0], 10, 64)
			seed := int64(id)
			if len(args) > 1 {
				s, _ := strconv.ParseInt(args[1], 10, 64)
				seed = s
			}
			vec := randomVector(*dim, seed)
			if err := db.Insert(lynxdb.VectorRecord{ID: id, Vector: vec}); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "REMOVE":
			if len(args) < 1 {
				fmt.Println("Usage: REMOVE <id>")
				continue
			}
			id, _ := strconv.ParseUint(args[0], 10, 64)
			if err := db.Remove(id); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "SEARCH":
			// SEARCH <id-as-query-seed> <k>
			if len(args) < 2 {
				fmt.Println("Usage: SEARCH <seed> <k>")
				continue
			}
			seed, _ := strconv.ParseInt(args[0], 10, 64)
			k, _ := strconv.Atoi(args[1])
			query := randomVector(*dim, seed)
			result := db.Search(query, k, lynxdb.SearchParams{})
			fmt.Printf("%d candidates, %.3fms\n", result.TotalCandidates, result.QueryTimeMs)
			for i, hit := range result.Items {
				fmt.Printf("  %d. id=%d dist=%.4f\n", i+1, hit.ID, hit.Distance)
			}

		case "STATS":
			s := db.Stats()
			fmt.Println("┌─────────────────────────────────────┐")
			fmt.Printf("│ Vectors:    %-8d                 │\n", s.VectorCount)
			fmt.Printf("│ Dimension:  %-8d                 │\n", s.Dimension)
			fmt.Printf("│ Inserts:    %-8d                 │\n", s.TotalInserts)
			fmt.Printf("│ Queries:    %-8d                 │\n", s.TotalQueries)
			fmt.Printf("│ Avg query:  %.3fms                  │\n", s.AvgQueryTimeMs)
			fmt.Printf("│ Index mem:  %-8d bytes           │\n", s.IndexMemoryBytes)
			fmt.Println("└─────────────────────────────────────┘")

		case "OPTIMIZE":
			if err := db.OptimizeIndex(); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "SAVE":
			if err := db.Save(); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "LOAD":
			if err := db.Load(); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`Commands:
  INSERT <id> [seed]     Insert a random vector under id
  REMOVE <id>            Remove a vector
  SEARCH <seed> <k>      Search for k nearest neighbors of a random query
  STATS                  Show database stats
  OPTIMIZE               Run non-blocking index maintenance
  SAVE                   Persist to --data
  LOAD                   Load from --data
  HELP                   Show this help
  QUIT                   Exit`)
}

func randomVector(dim int, seed int64) []float32 {
	r := rand.New(rand.NewSource(seed))
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = r.Float32()*2 - 1
	}
	return vec
}
