package cmd

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查询运行中服务的 payout 能力状态",
	Run: func(cmd *cobra.Command, args []string) {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(statusURL + "/health")
		if err != nil {
			log.Fatalf("请求失败 (服务未启动?): %v", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Fatalf("读取响应失败: %v", err)
		}
		fmt.Println(string(body))
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:8080", "服务地址")
	rootCmd.AddCommand(statusCmd)
}
