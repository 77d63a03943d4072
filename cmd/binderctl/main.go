package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	binder "github.com/kbinder/go-binder"
	"github.com/kbinder/go-binder/internal/logging"
)

func main() {
	var (
		contextName = flag.String("context", "binderctl", "name of the binder context to open")
		pid         = flag.Int("pid", os.Getpid(), "pid to register the process under")
		maxThreads  = flag.Uint("max-threads", uint(binder.DefaultMaxThreads), "thread pool ceiling for the process")
		mmapSize    = flag.Int("mmap-size", binder.DefaultMmapSize, "size in bytes of the transaction buffer arena")
		freezeMs    = flag.Uint("freeze-timeout-ms", 200, "timeout for the demo freeze/thaw cycle")
		verbose     = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx := binder.RegisterContext(*contextName)
	cfg := binder.ProcessConfig{
		MaxThreads: uint32(*maxThreads),
		MmapSize:   *mmapSize,
		Logger:     logger,
	}
	proc := binder.NewProcess(ctx, int32(*pid), cfg)
	defer func() {
		logger.Info("releasing process")
		if err := proc.Release(); err != nil {
			logger.Error("error releasing process", "error", err)
		}
	}()

	if err := proc.Mmap(*mmapSize); err != nil {
		log.Fatalf("mmap failed: %v", err)
	}
	logger.Info("process opened", "pid", *pid, "context", *contextName, "mmap_size", *mmapSize)

	node, err := proc.GetNode(1, 1)
	if err != nil {
		log.Fatalf("failed to create context manager node: %v", err)
	}
	if err := ctx.SetManagerNode(node, 0); err != nil {
		log.Fatalf("failed to register context manager: %v", err)
	}
	logger.Info("registered as context manager")

	threads := make([]*binder.Thread, 0, 2)
	for i := 0; i < 2; i++ {
		th := proc.RegisterThread()
		th.SetLooper()
		threads = append(threads, th)
		logger.Debug("registered thread", "id", th.ID)
	}

	fmt.Printf("binderctl: opened process pid=%d context=%q\n", *pid, *contextName)
	fmt.Println(proc.DebugString())

	fmt.Printf("freezing for up to %dms...\n", *freezeMs)
	if err := proc.Freeze(uint32(*freezeMs)); err != nil {
		logger.Warn("freeze did not complete cleanly", "error", err)
	} else {
		logger.Info("freeze granted")
	}
	if err := proc.Thaw(); err != nil {
		logger.Error("thaw failed", "error", err)
	}
	fmt.Println(proc.DebugString())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("press Ctrl+C to release the process and exit...")
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-time.After(5 * time.Second):
		logger.Info("demo timeout elapsed")
	}
}
