package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"TradePilot/sdk/go/tradepilot"
)

// 示例：通过 SDK 提交一个异步买入任务并等待结果。
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "TradePilot API 地址")
	token := flag.String("token", "", "代币合约地址")
	amount := flag.String("amount", "0.01", "买入使用的 ETH 数量")
	wallet := flag.String("wallet", "main", "钱包引用名")
	flag.Parse()

	if *token == "" {
		log.Fatal("必须通过 -token 指定代币地址")
	}

	client, err := tradepilot.NewClient(*baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(os.Getenv("TRADEPILOT_API_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	job, err := client.SubmitJob(ctx, tradepilot.JobSubmission{
		Kind:   "buy",
		Token:  *token,
		Amount: *amount,
		Wallet: *wallet,
	})
	if err != nil {
		log.Fatalf("提交任务失败: %v", err)
	}
	fmt.Printf("submitted job %s (status=%s)\n", job.ID, job.Status)

	done, err := client.WaitForJob(ctx, job.ID, 2*time.Second)
	if err != nil {
		log.Fatalf("等待任务失败: %v", err)
	}
	if done.Result != nil && done.Result.Success {
		fmt.Printf("job %s succeeded tx=%s received=%s\n", done.ID, done.Result.TxHash, done.Result.AmountReceived)
		return
	}
	fmt.Printf("job %s %s: [%s] %s\n", done.ID, done.Status, done.ErrorCode, done.LastError)
}
