package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basaltdb/pkg/concurrency"
	"basaltdb/pkg/config"
	"basaltdb/pkg/database"
	"basaltdb/pkg/executor"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var MAX_DELAY int64 = 10

// Listens for SIGINT or SIGTERM and closes the database.
func setupCloseHandler(db *database.Database, tm *concurrency.Manager) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("closehandler invoked")
		tm.Close()
		db.Close()
		os.Exit(0)
	}()
}

// Get delay jitter.
func jitter() time.Duration {
	return time.Duration(rand.Int63n(MAX_DELAY)+1) * time.Millisecond
}

func parseIsolation(s string) (concurrency.IsolationLevel, error) {
	switch s {
	case "ru":
		return concurrency.READ_UNCOMMITTED, nil
	case "rc":
		return concurrency.READ_COMMITTED, nil
	case "rr":
		return concurrency.REPEATABLE_READ, nil
	}
	return 0, fmt.Errorf("unknown isolation level %q", s)
}

// worker runs one client session's transactions against the shared table.
func worker(db *database.Database, tm *concurrency.Manager, isolation concurrency.IsolationLevel, nOps int, keyspace int64) error {
	session := uuid.New()
	log := logrus.WithField("session", session)
	for i := 0; i < nOps; i++ {
		time.Sleep(jitter())
		txn := tm.Begin(isolation)
		ctx := executor.NewExecutorContext(db, tm, txn)
		key := rand.Int63n(keyspace)
		var root executor.Executor
		switch rand.Intn(3) {
		case 0:
			root = executor.NewInsertExecutor(ctx, "accounts",
				executor.NewValuesExecutor([]database.Tuple{database.NewTuple(key, rand.Int63n(1000))}))
		case 1:
			root = executor.NewDeleteExecutor(ctx, "accounts",
				executor.NewSeqScanExecutor(ctx, "accounts", func(t *database.Tuple) bool {
					return !t.Values[0].Null && t.Values[0].Int == key
				}))
		default:
			root = executor.NewSeqScanExecutor(ctx, "accounts", nil)
		}
		if err := runToExhaustion(root); err != nil {
			// Deadlock victims and duplicate keys roll back and move on.
			log.WithError(err).Debug("transaction rolled back")
			tm.Abort(txn)
			continue
		}
		if err := tm.Commit(txn); err != nil {
			return err
		}
	}
	log.WithField("ops", nOps).Info("worker finished")
	return nil
}

func runToExhaustion(e executor.Executor) error {
	if err := e.Init(); err != nil {
		return err
	}
	for {
		_, ok, err := e.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

func main() {
	var nFlag = flag.Int("n", 4, "number of concurrent sessions")
	var opsFlag = flag.Int("ops", 100, "transactions per session")
	var isolationFlag = flag.String("isolation", "rr", "isolation level: [ru,rc,rr]")
	var dataFlag = flag.String("data", "data/stress.db", "database file")
	var verifyFlag = flag.Bool("verify", false, "verify index integrity at the end")
	var verboseFlag = flag.Bool("v", false, "debug logging")
	flag.Parse()
	if *verboseFlag {
		logrus.SetLevel(logrus.DebugLevel)
	}
	isolation, err := parseIsolation(*isolationFlag)
	if err != nil {
		fmt.Println(err)
		return
	}
	os.Remove(*dataFlag)
	db, err := database.Open(*dataFlag)
	if err != nil {
		panic(err)
	}
	tm := concurrency.NewManager(config.DeadlockDetectionInterval)
	defer db.Close()
	defer tm.Close()
	setupCloseHandler(db, tm)

	if _, err := db.CreateTable("accounts", database.Schema{Columns: []string{"id", "balance"}}); err != nil {
		panic(err)
	}
	idx, err := db.CreateIndex("accounts", "accountsid", 0)
	if err != nil {
		panic(err)
	}

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < *nFlag; i++ {
		g.Go(func() error {
			return worker(db, tm, isolation, *opsFlag, 256)
		})
	}
	if err := g.Wait(); err != nil {
		logrus.WithError(err).Fatal("stress run failed")
	}
	logrus.WithFields(logrus.Fields{
		"sessions": *nFlag,
		"ops":      *nFlag * *opsFlag,
		"elapsed":  time.Since(start),
	}).Info("stress run complete")

	if *verifyFlag {
		if err := idx.Index.VerifyIntegrity(); err != nil {
			logrus.WithError(err).Fatal("index integrity check failed")
		}
		logrus.Info("index integrity verified")
	}
}
