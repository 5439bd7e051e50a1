package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"tradebot-go/posttrade"
	"tradebot-go/store/gormstore"
)

func main() {
	dbType := flag.String("type", "sqlite", "数据库类型 (sqlite, postgres)")
	dsn := flag.String("dsn", "data/tradebot.db", "sqlite 文件路径或 postgres 连接串")
	strategyID := flag.String("strategy", "", "仅统计指定策略 (默认全量)")
	flag.Parse()

	st, err := gormstore.Open(gormstore.Config{Type: *dbType, DSN: *dsn})
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开数据库失败: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	analyzer := posttrade.NewAnalyzer(st.Positions(), nil)
	var sums []posttrade.Summary
	if *strategyID != "" {
		sums, err = analyzer.Strategy(ctx, *strategyID)
	} else {
		sums, err = analyzer.All(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "统计失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("数据库: %s (%s)\n", *dsn, *dbType)
	if len(sums) == 0 {
		fmt.Println("没有持仓记录")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STRATEGY\tQUOTE\tCLOSED\tOPEN\tWIN%\tREALIZED\tUNREALIZED\tFEES\t")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f\t%s\t%s\t%s\t\n",
			s.StrategyID, s.Quote, s.ClosedPositions, s.OpenPositions, s.WinRate()*100,
			s.Realized.StringFixed(8), s.Unrealized.StringFixed(8), s.Fees.StringFixed(8))
	}
	_ = tw.Flush()
}
