// seed_cases.go — standalone script to post sample questionnaires to the
// caseflow API so a fresh install has cases to review.
//
// Usage:
//
//	go run scripts/seed_cases.go -api http://localhost:8700 -count 20
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
)

type questionnaire struct {
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	NationalID       string `json:"national_id"`
	Occupation       string `json:"occupation,omitempty"`
	AnnualIncome     int    `json:"annual_income"`
	InvestmentAmount string `json:"investment_amount"`
	MaxLoss          int    `json:"max_loss"`
	Score            int    `json:"score"`
}

var occupations = []string{"engineer", "physician", "retailer", "accountant", "lawyer"}

func main() {
	apiURL := flag.String("api", "http://localhost:8700", "caseflow API base URL")
	count := flag.Int("count", 20, "number of questionnaires to post")
	seed := flag.Int64("seed", 42, "random seed")
	dryRun := flag.Bool("dry-run", false, "print questionnaires without posting")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	posted := 0
	for i := 0; i < *count; i++ {
		q := questionnaire{
			Name:             fmt.Sprintf("Sample Customer %03d", i),
			Phone:            fmt.Sprintf("138%08d", rng.Intn(100000000)),
			NationalID:       fmt.Sprintf("11010119%010d", rng.Int63n(10000000000)),
			Occupation:       occupations[rng.Intn(len(occupations))],
			AnnualIncome:     (rng.Intn(50) + 5) * 10000,
			InvestmentAmount: fmt.Sprintf("%d", (rng.Intn(100)+1)*10000),
			MaxLoss:          rng.Intn(50),
			Score:            rng.Intn(101),
		}

		if *dryRun {
			out, _ := json.Marshal(q)
			fmt.Println(string(out))
			continue
		}

		body, err := json.Marshal(q)
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}
		resp, err := http.Post(*apiURL+"/api/v1/questionnaires", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatalf("post questionnaire: %v", err)
		}
		if resp.StatusCode != http.StatusCreated {
			log.Printf("questionnaire %d rejected: %s", i, resp.Status)
		} else {
			posted++
		}
		resp.Body.Close()
	}

	if !*dryRun {
		fmt.Printf("posted %d/%d questionnaires\n", posted, *count)
	}
}
