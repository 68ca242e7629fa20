package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/docvisionai/backend/internal/config"
	"github.com/docvisionai/backend/internal/model/report"
	"github.com/docvisionai/backend/internal/service/ai"
	"github.com/docvisionai/backend/internal/service/chat"
	"github.com/docvisionai/backend/internal/service/inference"
	"github.com/docvisionai/backend/internal/service/qa"
	"github.com/docvisionai/backend/internal/store/memory"
	"github.com/docvisionai/backend/pkg/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: predict 或 ask")
	imagePath := flag.String("image", "", "predict 模式的 X 光图片路径")
	outputPath := flag.String("out", "", "热力图输出路径 (默认 heatmap-<时间戳>.jpg)")
	reportsPath := flag.String("reports", "", "ask 模式使用的报告 JSON 文件 (RadiologyReport 数组)")
	question := flag.String("question", "", "ask 模式的问题")
	patientID := flag.String("patient", "manual-patient", "患者 ID")
	timeout := flag.Duration("timeout", 2*time.Minute, "请求超时时间")

	flag.Parse()

	if *mode != "predict" && *mode != "ask" {
		flag.Usage()
		log.Fatal("请通过 -mode=predict 或 -mode=ask 指定测试模式")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "predict":
		runPredict(ctx, cfg, *imagePath, *outputPath)
	case "ask":
		runAsk(ctx, cfg, *reportsPath, *patientID, *question)
	}
}

func runPredict(ctx context.Context, cfg *config.Config, imagePath, outputPath string) {
	if imagePath == "" {
		log.Fatal("predict 模式需要通过 -image 指定图片路径")
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		log.Fatalf("读取图片失败: %v", err)
	}

	lg, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}

	classifier, err := inference.NewONNXClassifier(cfg.Model, lg)
	if err != nil {
		log.Fatalf("模型加载失败: %v", err)
	}
	defer classifier.Close()

	svc := inference.NewService(classifier, inference.WithGrayscaleGate(cfg.Model.RequireGrayscale), inference.WithLogger(lg))

	start := time.Now()
	pred, err := svc.Predict(ctx, data)
	if err != nil {
		log.Fatalf("预测失败: %v", err)
	}
	log.Printf("预测完成: %s (耗时 %s)", pred.Result, time.Since(start).Round(time.Millisecond))

	if outputPath == "" {
		outputPath = fmt.Sprintf("heatmap-%d.jpg", time.Now().Unix())
	}
	heatmap, err := base64.StdEncoding.DecodeString(pred.Heatmap)
	if err != nil {
		log.Fatalf("热力图解码失败: %v", err)
	}
	if err := os.WriteFile(outputPath, heatmap, 0o644); err != nil {
		log.Fatalf("写入热力图失败: %v", err)
	}
	log.Printf("热力图已写入 %s", outputPath)
}

func runAsk(ctx context.Context, cfg *config.Config, reportsPath, patientID, question string) {
	if strings.TrimSpace(question) == "" {
		log.Fatal("ask 模式需要通过 -question 提供问题")
	}

	lg, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}

	backend := memory.New()
	if reportsPath != "" {
		raw, err := os.ReadFile(reportsPath)
		if err != nil {
			log.Fatalf("读取报告文件失败: %v", err)
		}
		var reports []report.RadiologyReport
		if err := json.Unmarshal(raw, &reports); err != nil {
			log.Fatalf("解析报告文件失败: %v", err)
		}
		for _, r := range reports {
			backend.AddReport(patientID, r)
		}
		log.Printf("已载入 %d 份报告", len(reports))
	}

	aiService, err := ai.NewService(ctx, cfg.LLM, lg)
	if err != nil {
		log.Fatalf("AI 服务初始化失败: %v", err)
	}

	sessions := chat.NewService(backend, backend, chat.WithLogger(lg))
	svc := qa.NewService(sessions, aiService, lg)

	req := qa.Request{UserID: "xraytester", PatientID: patientID, Question: question}
	answer, err := svc.AskStream(ctx, req, func(delta string) error {
		fmt.Print(delta)
		return nil
	})
	fmt.Println()
	if err != nil {
		log.Fatalf("问答失败: %v", err)
	}
	log.Printf("问答完成: session=%s length=%d", answer.SessionID, len(answer.Reply))
}
