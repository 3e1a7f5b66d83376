package cmd

import (
	"fmt"
	"log"
	"sort"

	"credits-core/internal/model"
	"credits-core/internal/settings"
	"credits-core/pkg/config"
	"credits-core/pkg/database"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "查看或修改受管 payout 配置",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出全部受管配置 (私钥脱敏)",
	Run: func(cmd *cobra.Command, args []string) {
		resolver := openResolver()

		keys := make([]string, 0, len(settings.ManagedKeys))
		for key := range settings.ManagedKeys {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			value := resolver.Get(key)
			if key == settings.KeyPrivateKey {
				value = resolver.Masked(key)
			}
			marker := ""
			if resolver.HasEnvOverride(key) {
				marker = " (env)"
			}
			fmt.Printf("%-20s = %s%s\n", key, value, marker)
		}
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "写入一个受管配置键 (空值表示删除)",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		value := ""
		if len(args) == 2 {
			value = args[1]
		}

		resolver := openResolver()
		if err := resolver.Set(key, value); err != nil {
			log.Fatalf("写入失败: %v", err)
		}
		fmt.Printf("%s 已更新 (服务端需 POST /api/v1/reload 生效)\n", key)
	},
}

func openResolver() *settings.Resolver {
	config.Init()
	db, err := database.Connect(config.Global.DB.Driver, config.Global.DB.DSN)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	if err := db.AutoMigrate(&model.AppSetting{}); err != nil {
		log.Fatalf("迁移 app_settings 失败: %v", err)
	}
	return settings.NewResolver(db)
}

func init() {
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
