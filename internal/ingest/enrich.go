package ingest

import (
	"context"
	"fmt"

	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/remote"
)

// EnrichLedger fetches and persists the payments, transactions, and contract
// events belonging to one ledger. Idempotent: every insert is
// insert-if-absent, so retrying a ledger never duplicates rows.
func (s *Service) EnrichLedger(ctx context.Context, sequence uint64) error {
	// Transactions first so fee-bump and account-merge annotations land
	// with the envelope.
	txs, err := s.cfg.Client.FetchTransactionsForLedger(ctx, sequence)
	if err != nil {
		return fmt.Errorf("fetch transactions for ledger %d: %w", sequence, err)
	}
	ops, err := s.cfg.Client.FetchOperationsForLedger(ctx, sequence)
	if err != nil {
		return fmt.Errorf("fetch operations for ledger %d: %w", sequence, err)
	}
	annotateTransactions(txs, ops)

	for i := range txs {
		if err := s.cfg.Transactions.InsertIfAbsent(ctx, &txs[i]); err != nil {
			return fmt.Errorf("persist transaction %s: %w", txs[i].TxHash, err)
		}
	}

	payments, err := s.cfg.Client.FetchPaymentsForLedger(ctx, sequence)
	if err != nil {
		return fmt.Errorf("fetch payments for ledger %d: %w", sequence, err)
	}
	for i := range payments {
		if err := s.cfg.Payments.InsertIfAbsent(ctx, &payments[i]); err != nil {
			return fmt.Errorf("persist payment %s: %w", payments[i].OperationID, err)
		}
	}

	events, err := s.cfg.Client.FetchContractEvents(ctx, s.eventQuery(sequence))
	if err != nil {
		return fmt.Errorf("fetch contract events for ledger %d: %w", sequence, err)
	}
	for i := range events {
		if err := s.cfg.Events.InsertIfAbsent(ctx, &events[i]); err != nil {
			return fmt.Errorf("persist event %s/%d: %w", events[i].TxHash, events[i].EventIndex, err)
		}
	}

	return nil
}

func (s *Service) eventQuery(sequence uint64) remote.EventQuery {
	return remote.EventQuery{
		StartLedger: sequence,
		EndLedger:   sequence,
		ContractIDs: s.cfg.ContractIDs,
		Network:     s.cfg.Network,
	}
}

// annotateTransactions marks fee-bump envelopes and account merges on the
// transaction records. Fee bumps are self-describing on the envelope;
// merges are detected from the ledger's operation list.
func annotateTransactions(txs []domain.IngestedTransaction, ops []map[string]any) {
	merges := make(map[string]string)
	for _, op := range ops {
		opType, _ := op["type"].(string)
		if opType != "account_merge" {
			continue
		}
		txHash, _ := op["transaction_hash"].(string)
		into, _ := op["into"].(string)
		if txHash != "" {
			merges[txHash] = into
		}
	}

	for i := range txs {
		if txs[i].FeeBumpSource != "" {
			txs[i].FeeBump = true
		}
		if into, ok := merges[txs[i].TxHash]; ok {
			txs[i].AccountMerge = true
			txs[i].MergedAccount = into
		}
	}
}
