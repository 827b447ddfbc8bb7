// Benchmark tool for replaying labeled order data against Riskgate.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/orders.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled order submissions (with fraud labels)
//   2. Sends each order to Riskgate for assessment
//   3. Compares the recommendation (DECLINE/VERIFY vs APPROVE) with actual labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns:
//   order_id, customer_id, email, account_age_days, prior_orders,
//   prior_chargebacks, product_code, order_value, currency, billing_country,
//   origin_country, instrument_category, device_fingerprint, is_fraud
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledOrder represents a row from the labeled order dataset.
type LabeledOrder struct {
	OrderID            string
	CustomerID         string
	Email              string
	AccountAgeDays     int
	PriorOrders        int
	PriorChargebacks   int
	ProductCode        string
	OrderValue         float64
	Currency           string
	BillingCountry     string
	OriginCountry      string
	InstrumentCategory string
	DeviceFingerprint  string
	IsFraud            bool
}

// AssessRequest mirrors the Riskgate submission format.
type AssessRequest struct {
	OrderID  string   `json:"orderId"`
	Customer Customer `json:"customer"`
	Order    Order    `json:"order"`
	Billing  Billing  `json:"billing"`
	Origin   Origin   `json:"origin"`
}

type Customer struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	AccountCreated   time.Time `json:"accountCreated"`
	PriorOrders      int       `json:"priorOrders"`
	PriorChargebacks int       `json:"priorChargebacks"`
}

type Order struct {
	ProductCode string  `json:"productCode"`
	Value       float64 `json:"value"`
	Currency    string  `json:"currency"`
}

type Billing struct {
	Name               string `json:"name"`
	Address            string `json:"address"`
	Country            string `json:"country"`
	InstrumentCategory string `json:"instrumentCategory"`
}

type Origin struct {
	Country           string `json:"country"`
	IP                string `json:"ip"`
	DeviceFingerprint string `json:"deviceFingerprint"`
}

// AssessResponse is the Riskgate API response format.
type AssessResponse struct {
	AssessmentID   string  `json:"assessmentId"`
	Recommendation string  `json:"recommendation"`
	Score          float64 `json:"score"`
	Level          string  `json:"level"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud flagged (VERIFY or DECLINE)
	FalsePositives int64 // Clean order flagged
	TrueNegatives  int64 // Clean order approved
	FalseNegatives int64 // Fraud approved (missed!)

	TotalProcessed int64
	TotalFraud     int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled order CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Riskgate base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum orders to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud orders")
	strict := flag.Bool("strict", false, "Count only DECLINE as flagged (VERIFY counts as approved)")
	verbose := flag.Bool("verbose", false, "Print each order result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/orders.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("===============================================================")
	fmt.Println("        RISKGATE BENCHMARK - Labeled Order Replay")
	fmt.Println("===============================================================")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Riskgate URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Printf("Fraud Only:   %v\n", *fraudOnly)
	fmt.Printf("Strict:       %v\n", *strict)
	fmt.Println()

	// Check Riskgate is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Riskgate not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Riskgate is running:")
		fmt.Println("  go run cmd/riskgate/main.go")
		os.Exit(1)
	}
	fmt.Println("Riskgate is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled orders from %s...\n", *csvPath)
	orders, err := readOrderCSV(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d orders\n", len(orders))

	fraudCount := 0
	for _, o := range orders {
		if o.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud: %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(orders)))
	fmt.Printf("  - Clean: %d (%.2f%%)\n", len(orders)-fraudCount, 100*float64(len(orders)-fraudCount)/float64(len(orders)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(orders, *baseURL, *tenantID, *workers, *strict, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readOrderCSV(path string, limit int, fraudOnly bool) ([]LabeledOrder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var orders []LabeledOrder

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := record[colIndex["is_fraud"]] == "1"
		if fraudOnly && !isFraud {
			continue
		}

		accountAge, _ := strconv.Atoi(record[colIndex["account_age_days"]])
		priorOrders, _ := strconv.Atoi(record[colIndex["prior_orders"]])
		priorChargebacks, _ := strconv.Atoi(record[colIndex["prior_chargebacks"]])
		orderValue, _ := strconv.ParseFloat(record[colIndex["order_value"]], 64)

		orders = append(orders, LabeledOrder{
			OrderID:            record[colIndex["order_id"]],
			CustomerID:         record[colIndex["customer_id"]],
			Email:              record[colIndex["email"]],
			AccountAgeDays:     accountAge,
			PriorOrders:        priorOrders,
			PriorChargebacks:   priorChargebacks,
			ProductCode:        record[colIndex["product_code"]],
			OrderValue:         orderValue,
			Currency:           record[colIndex["currency"]],
			BillingCountry:     record[colIndex["billing_country"]],
			OriginCountry:      record[colIndex["origin_country"]],
			InstrumentCategory: record[colIndex["instrument_category"]],
			DeviceFingerprint:  record[colIndex["device_fingerprint"]],
			IsFraud:            isFraud,
		})

		if limit > 0 && len(orders) >= limit {
			break
		}
	}

	return orders, nil
}

func runBenchmark(orders []LabeledOrder, baseURL, tenantID string, numWorkers int, strict, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledOrder, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for order := range work {
				start := time.Now()
				result, err := assessOrder(client, baseURL, tenantID, order)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", order.OrderID, err)
					}
					continue
				}

				if order.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				flagged := result.Recommendation == "DECLINE"
				if !strict {
					flagged = flagged || result.Recommendation == "VERIFY"
				}
				actual := order.IsFraud

				switch {
				case flagged && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case flagged && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !flagged && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					marker := "ok  "
					if (flagged && !actual) || (!flagged && actual) {
						marker = "MISS"
					}
					fmt.Printf("%s %-16s | Value: $%10.2f | Fraud: %-5v | Verdict: %-7s (%.1f)\n",
						marker,
						order.OrderID,
						order.OrderValue,
						order.IsFraud,
						result.Recommendation,
						result.Score,
					)
				}
			}
		}()
	}

	for _, order := range orders {
		work <- order
	}
	close(work)

	wg.Wait()

	return metrics
}

func assessOrder(client *http.Client, baseURL, tenantID string, order LabeledOrder) (*AssessResponse, error) {
	req := AssessRequest{
		OrderID: order.OrderID,
		Customer: Customer{
			ID:               order.CustomerID,
			Email:            order.Email,
			Name:             "Benchmark Customer",
			AccountCreated:   time.Now().UTC().AddDate(0, 0, -order.AccountAgeDays),
			PriorOrders:      order.PriorOrders,
			PriorChargebacks: order.PriorChargebacks,
		},
		Order: Order{
			ProductCode: order.ProductCode,
			Value:       order.OrderValue,
			Currency:    order.Currency,
		},
		Billing: Billing{
			Name:               "Benchmark Customer",
			Address:            "1 Benchmark Way",
			Country:            order.BillingCountry,
			InstrumentCategory: order.InstrumentCategory,
		},
		Origin: Origin{
			Country:           order.OriginCountry,
			IP:                "203.0.113.1",
			DeviceFingerprint: order.DeviceFingerprint,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/assess", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n===============================================================")
	fmt.Println("                     BENCHMARK RESULTS")
	fmt.Println("===============================================================")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Clean:      %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Flagged     Approved")
	fmt.Println("              +----------+----------+")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              +----------+----------+")
	fmt.Printf("           C  | %8d | %8d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              +----------+----------+")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged orders, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\nDETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Flagged:     %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalClean > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalClean) * 100
		fmt.Printf("   False Flags:       %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalClean, falseAlarmRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		ops := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f orders/sec\n", ops)
	}

	fmt.Println()
}
