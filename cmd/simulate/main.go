package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"custody-wallet-core/internal/common"
	"custody-wallet-core/internal/config"
	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	treasuryAddress  = "0x52908400098527886E0F7030069857D2E4169EE7"
	northwindAddress = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"
	sanctionedSender = "0x8589427373D6D84E98730D7795D8f6f8731FDA16"
)

type step struct {
	name string
	run  func(ctx context.Context, st *session.Store) error
}

func printPortfolio(st *session.Store) error {
	wallet, err := st.ActiveWallet()
	if err != nil {
		return err
	}
	assets, err := st.AggregatedAssets()
	if err != nil {
		return err
	}
	total, _ := st.TotalValueUSD()

	fmt.Printf("\n┌─ %s (%s)\n", wallet.Name, common.FormatUSD(total))
	common.PrintBoxSeparator(60)
	for i, a := range assets {
		fmt.Printf("%s %-6s %18s  %12s\n", common.BoxPrefix(i == len(assets)-1), a.Symbol, a.TotalBalance.String(), common.FormatUSD(a.TotalValueUSD))
	}
	return nil
}

func printRiskStatus(ctx context.Context, st *session.Store) error {
	summary, err := st.AccountRiskStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("   Risk status: %s (red %d, yellow %d, exposure %s)\n",
		summary.Status, summary.RedCount, summary.YellowCount, common.FormatUSD(summary.TotalRiskExposure))
	return nil
}

func pendingFlagged(st *session.Store, score models.RiskScore) (models.Transaction, error) {
	txs, err := st.Transactions()
	if err != nil {
		return models.Transaction{}, err
	}
	for _, tx := range txs {
		if tx.RiskScore == score && tx.DisposalStatus == models.DisposalPending {
			return tx, nil
		}
	}
	return models.Transaction{}, fmt.Errorf("%w: no pending %s receive", models.ErrNotFound, score)
}

func usdt(to, amount string) models.SendRequest {
	return models.SendRequest{To: to, Amount: decimal.RequireFromString(amount), Symbol: "USDT", Chain: "ethereum"}
}

func scenario() []step {
	return []step{
		{"Portfolio", func(ctx context.Context, st *session.Store) error {
			if err := printPortfolio(st); err != nil {
				return err
			}
			return printRiskStatus(ctx, st)
		}},
		{"Acknowledge yellow deposit", func(ctx context.Context, st *session.Store) error {
			tx, err := pendingFlagged(st, models.RiskYellow)
			if err != nil {
				return err
			}
			if _, err := st.Acknowledge(ctx, tx.Id); err != nil {
				return err
			}
			fmt.Printf("   Kept %s %s from %s\n", tx.Amount, tx.Symbol, tx.Counterparty)
			return printRiskStatus(ctx, st)
		}},
		{"Send to treasury, speed up, cancel", func(ctx context.Context, st *session.Store) error {
			ctx = models.WithRequestContext(ctx, &models.RequestContext{IdempotencyKey: uuid.New().String()})
			sent, err := st.Send(ctx, usdt(treasuryAddress, "200"))
			if err != nil {
				return err
			}
			fmt.Printf("   Sent 200 USDT, nonce %d, balance %s\n", sent.Nonce, sent.NewBalance)
			faster, err := st.SpeedUp(ctx, sent.TransactionId, models.FeeTierFast)
			if err != nil {
				return err
			}
			fmt.Printf("   Sped up to %s gwei\n", faster.GasPrice)
			cancellation, err := st.Cancel(ctx, faster.Id)
			if err != nil {
				return err
			}
			if _, err := st.MarkConfirmed(ctx, cancellation.Id); err != nil {
				return err
			}
			fmt.Printf("   Cancellation confirmed, %s USDT released\n", cancellation.CancelledAmount)
			return nil
		}},
		{"Pay Northwind Pay", func(ctx context.Context, st *session.Store) error {
			conn, err := st.ConnectPSP(ctx, "northwind-pay", []string{"read_balance", "withdraw"})
			if err != nil {
				return err
			}
			fmt.Printf("   %s connection is %s until %s\n", conn.Name, conn.Status, conn.ExpiresAt.Format(time.DateOnly))
			sent, err := st.Send(ctx, usdt(northwindAddress, "300"))
			if err != nil {
				return err
			}
			if _, err := st.MarkConfirmed(ctx, sent.TransactionId); err != nil {
				return err
			}
			security, err := st.SecurityConfig()
			if err != nil {
				return err
			}
			fmt.Printf("   Daily usage %s of %s\n", common.FormatUSD(security.DailyUsed), common.FormatUSD(security.DailyLimit))
			return nil
		}},
		{"Return sanctioned deposit", func(ctx context.Context, st *session.Store) error {
			deposit, err := st.IngestReceive(ctx, models.Transaction{
				Amount:       decimal.NewFromInt(500),
				Symbol:       "USDT",
				ValueUSD:     decimal.NewFromInt(500),
				Counterparty: sanctionedSender,
				Chain:        "ethereum",
				Hash:         "0x" + uuid.New().String(),
				Status:       models.StatusConfirmed,
			})
			if err != nil {
				return err
			}
			if err := printRiskStatus(ctx, st); err != nil {
				return err
			}
			preview, err := st.PrepareSend(ctx, usdt(northwindAddress, "10"))
			if err != nil {
				return err
			}
			fmt.Printf("   Sending to Northwind blocked: %t\n", preview.Blocked)
			refund, err := st.ReturnFunds(ctx, deposit.Id, "return-"+deposit.Id)
			if err != nil {
				return err
			}
			fmt.Printf("   Refund %s sent\n", common.ShortId(refund.Hash))
			return printRiskStatus(ctx, st)
		}},
		{"Maintenance sweep", func(ctx context.Context, st *session.Store) error {
			report, err := st.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("   Expired %d connections, pruned %d scans\n", report.ExpiredConnections, report.ScansPruned)
			return nil
		}},
		{"Notifications", func(ctx context.Context, st *session.Store) error {
			items, err := st.UnreadNotifications()
			if err != nil {
				return err
			}
			for i, n := range items {
				fmt.Printf("%s [%s/%s] %s\n", common.BoxPrefix(i == len(items)-1), n.Category, n.Priority, n.Title)
			}
			marked, err := st.MarkAllNotificationsRead(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("   Marked %d read\n", marked)
			return printPortfolio(st)
		}},
	}
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	latency := flag.Duration("latency", 0, "Simulated network latency per mutation")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}
	cfg.Database.SeedDemoData = true
	cfg.Session.NetworkLatency = *latency

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	common.PrintHeader("CUSTODY WALLET SIMULATION", common.DefaultWidth)
	steps := scenario()
	for i, s := range steps {
		fmt.Printf("\n[%d/%d] %s\n", i+1, len(steps), s.name)
		if err := s.run(ctx, services.Store); err != nil {
			fmt.Printf("❌ %s failed: %v\n", s.name, err)
			zap.L().Fatal("Simulation step failed", zap.String("step", s.name), zap.Error(err))
		}
	}
	common.PrintFooter("SIMULATION COMPLETE", common.DefaultWidth)
}
