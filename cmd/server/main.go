package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mnohosten/shardkv/pkg/server"
)

func main() {
	host := flag.String("host", "localhost", "Listen host address")
	port := flag.Int("port", 8080, "Listen port")
	dataDir := flag.String("data-dir", "./data", "Data directory for this node's storage")
	nodeURL := flag.String("node", "", "Public URL of this node (default http://<host>:<port>)")
	clusterList := flag.String("cluster", "", "Comma-separated URLs of all cluster nodes including this one (default: single-node)")
	memtableSize := flag.Int64("memtable-size", 4*1024*1024, "Memtable flush threshold in bytes")
	flag.Parse()

	config := server.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.DataDir = *dataDir
	config.MemtableSize = *memtableSize

	config.NodeURL = *nodeURL
	if config.NodeURL == "" {
		config.NodeURL = fmt.Sprintf("http://%s:%d", *host, *port)
	}
	if *clusterList != "" {
		config.ClusterURLs = strings.Split(*clusterList, ",")
	}

	srv, err := server.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create node: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Node error: %v\n", err)
		os.Exit(1)
	}
}
