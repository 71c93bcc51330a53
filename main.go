package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/GrainArc/MapEditor/config"
	"github.com/GrainArc/MapEditor/interaction"
	"github.com/GrainArc/MapEditor/models"
	"github.com/GrainArc/MapEditor/routers"
	"github.com/GrainArc/MapEditor/services"
	"github.com/GrainArc/MapEditor/store"
	"github.com/GrainArc/MapEditor/views"
)

func main() {
	path := flag.String("config", "config.xml", "配置文件路径")
	flag.Parse()

	cfg, file, err := config.Load(*path)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	for _, dir := range []string{cfg.KMLDir, filepath.Dir(cfg.AuditDB), filepath.Dir(cfg.SQLitePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("创建目录 %s 失败: %v", dir, err)
		}
	}
	db, dialect, err := cfg.OpenDatabase()
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}
	audit, err := cfg.OpenAudit()
	if err != nil {
		log.Fatalf("打开留痕库失败: %v", err)
	}

	layers, err := cfg.RelationalLayers()
	if err != nil {
		log.Fatalf("图层配置错误: %v", err)
	}
	project := models.NewProjectState(cfg.SRID, layers...)
	adapters := store.NewRegistry(
		store.NewRelationalAdapter(store.GormExecutor{DB: db}, dialect),
		store.NewDocumentAdapter(store.OSDocumentIO{}),
	)
	notifier := services.NewNotifier()
	recorder := services.NewRecorder(audit)
	features := services.NewFeatureService(project, adapters, notifier, recorder)
	layerService := services.NewLayerService(project, adapters, store.OSDocumentIO{}, file, notifier, cfg.KMLDir)

	ctx := context.Background()
	for _, l := range layers {
		n, err := features.Reload(ctx, l.ID)
		if err != nil {
			log.Printf("加载图层 %s 失败: %v", l.ID, err)
			continue
		}
		log.Printf("图层 %s 已加载 %d 个要素", l.ID, n)
	}
	if err := layerService.LoadDocuments(ctx); err != nil {
		log.Printf("加载 KML 图层失败: %v", err)
	}

	controller := interaction.NewController(project, features, services.ControllerHooks(notifier, recorder))
	controller.Tolerance = cfg.Tolerance

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	routers.MapRouters(r, &views.MapController{
		Layers:      layerService,
		Features:    features,
		Interaction: controller,
		Notifier:    notifier,
		Recorder:    recorder,
	})
	log.Printf("服务启动 %s", cfg.MainRouter)
	if err := r.Run(cfg.MainRouter); err != nil {
		log.Fatalf("服务退出: %v", err)
	}
}
