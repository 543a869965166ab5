package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"EasyCash-SDK/sdk/go/ecash"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ecash.TransactionResponse{
			TxHash:      "0x4f3c9a1b2d8e7f6a5b4c3d2e1f0a9b8c7d",
			Status:      "confirmed",
			BlockHeight: 1948201,
			FeeUsed:     "0.05 USDC",
		})
	})
	mux.HandleFunc("POST /api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(ecash.Task{ID: "task-demo", Status: "pending", MaxRetries: 3})
	})
	mux.HandleFunc("GET /api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ecash.Task{
			ID:       "task-demo",
			Status:   "succeeded",
			Attempts: 1,
			Result:   &ecash.TransactionResponse{TxHash: "0x9a", Status: "confirmed", BlockHeight: 1948201, FeeUsed: "0.03 USDC"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := ecash.NewClient(srv.URL, ecash.WithHTTPClient(srv.Client()))
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := ecash.TransactionRequest{ReferenceID: "demo-1", Type: "transfer", Amount: "100.00", Asset: "USDC", SourceChain: "ethereum"}
	resp, err := client.Execute(ctx, req, "balanced")
	if err != nil {
		panic(err)
	}
	fmt.Printf("settled %s at height %d (fee %s)\n", resp.TxHash, resp.BlockHeight, resp.FeeUsed)

	created, err := client.SubmitTask(ctx, ecash.TaskSubmission{Request: req, Preference: "cost"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s (status=%s)\n", created.ID, created.Status)

	done, err := client.WaitForTask(ctx, created.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished: %s fee=%s\n", done.ID, done.Status, done.Result.FeeUsed)
}
