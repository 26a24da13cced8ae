package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/grass-leaderboard/internal/domain"
)

var usernames = []string{
	"meadow", "clover", "fern", "moss", "sprout", "thistle", "willow", "yarrow", "basil", "rye",
	"sage", "juniper", "heather", "briar", "aspen", "cedar", "linden", "rowan", "hazel", "ivy",
}

func username(idx int) string {
	return fmt.Sprintf("%s%d", usernames[idx%len(usernames)], idx/len(usernames)+1)
}

// reading mimics the serial device: mostly push-up counts, sometimes noise
func reading(r *rand.Rand, badRatio float64) domain.RawReading {
	if r.Float64() < badRatio {
		return domain.RawReading([]string{"", "ERR", "--", "calibrating"}[r.Intn(4)])
	}
	return domain.RawReading(strconv.Itoa(r.Intn(60) + 1))
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "grass-submissions", "Kafka topic")
	users := flag.Int("users", 50, "Number of distinct usernames")
	rate := flag.Int("rate", 5, "Submissions per second")
	count := flag.Int("count", 0, "Stop after this many submissions (0 = unlimited)")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	imagePath := flag.String("image", "", "Photo attached to every submission (optional)")
	badRatio := flag.Float64("bad-ratio", 0.05, "Fraction of submissions with an unparsable reading")
	flag.Parse()

	if *users <= 0 || *rate <= 0 {
		log.Fatal("users and rate must be positive")
	}

	var imageData, imageName string
	if *imagePath != "" {
		raw, err := os.ReadFile(*imagePath)
		if err != nil {
			log.Fatalf("Failed to read image: %v", err)
		}
		imageData = base64.StdEncoding.EncodeToString(raw)
		imageName = filepath.Base(*imagePath)
	}

	fmt.Println("Grass submission producer")
	fmt.Printf("  Brokers:   %s\n", *brokers)
	fmt.Printf("  Topic:     %s\n", *topic)
	fmt.Printf("  Users:     %d\n", *users)
	fmt.Printf("  Rate:      %d/sec\n", *rate)
	if imageName != "" {
		fmt.Printf("  Image:     %s\n", imageName)
	}
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount, sentCount int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	shutdown := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Acked: %d, Errors: %d\n",
			atomic.LoadInt64(&sentCount), atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-deadline:
			shutdown("Duration reached, shutting down...")
			return

		case <-ticker.C:
			sub := domain.Submission{
				Username:    username(rng.Intn(*users)),
				ArduinoData: reading(rng, *badRatio),
				ImageName:   imageName,
				ImageData:   imageData,
			}
			data, err := json.Marshal(sub)
			if err != nil {
				log.Printf("Failed to marshal submission: %v", err)
				continue
			}
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(sub.Username),
				Value: sarama.ByteEncoder(data),
			}
			sent := atomic.AddInt64(&sentCount, 1)
			if *count > 0 && sent >= int64(*count) {
				shutdown("Count reached, shutting down...")
				return
			}

		case <-statsTicker.C:
			fmt.Printf("[%s] Sent: %d | Acked: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&sentCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
