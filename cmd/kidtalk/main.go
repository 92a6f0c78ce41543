package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"kidtalk/internal/api"
	"kidtalk/internal/config"
	"kidtalk/internal/engine"
	"kidtalk/internal/freechat"
	"kidtalk/internal/manager"
	"kidtalk/internal/router"
	"kidtalk/internal/store"
)

func main() {
	// 参数用 flag，敏感信息（管理端密钥、LLM Key）走环境变量，见 config.Load。
	configPath := flag.String("config", "configs/kidtalk.yaml", "config file path")
	addr := flag.String("addr", "", "http listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var st store.Store
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		rs, err := store.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer rs.Close()
		st = rs
		log.Printf("[Main] 使用 redis 存储 addr=%s", cfg.Redis.Addr)
	} else {
		st = store.NewInMemoryStore()
		log.Printf("[Main] 使用内存存储（单实例，重启丢会话）")
	}

	mgr := manager.New(manager.Config{
		BaseURL:               cfg.Manager.URL,
		Secret:                cfg.Manager.Secret,
		Username:              cfg.Manager.Username,
		Password:              cfg.Manager.Password,
		Timeout:               cfg.Manager.Timeout,
		MaxRetries:            cfg.Manager.MaxRetries,
		RetryDelay:            cfg.Manager.RetryDelay,
		DefaultTimeoutSeconds: cfg.Teaching.DefaultTimeoutSeconds,
	}, nil)

	var free freechat.Responder
	if cfg.FreeChat.APIKey != "" {
		free = freechat.NewLLM(cfg.FreeChat)
		log.Printf("[Main] 自由聊天走 LLM model=%s", cfg.FreeChat.Model)
	} else {
		free = freechat.NewCanned(time.Now().UnixNano())
		log.Printf("[Main] 自由聊天走内置语料（未配置 LLM Key）")
	}

	actors := engine.NewActors()
	eng := engine.New(mgr, st, actors, cfg.Teaching)
	rt := router.New(st, eng, free, actors, cfg.Teaching.SessionTTL)
	srv := api.NewServer(eng, rt, actors)

	listen := *addr
	if listen == "" {
		listen = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	httpServer := &http.Server{
		Addr:         listen,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	log.Printf("kidtalk server listening on %s", listen)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
