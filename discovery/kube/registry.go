// Package kube registers services as coordination.k8s.io/v1 Lease objects.
// Each registration is one Lease that is renewed until cancelled; readers
// ignore Leases whose renew time plus duration has passed.
package kube

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tigon-control-plane/discovery"

	"github.com/rs/zerolog/log"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	serviceLabel      = "tigon.io/service"
	addressAnnotation = "tigon.io/address"
)

type Registry struct {
	client       kubernetes.Interface
	namespace    string
	leaseSeconds int32
	now          func() time.Time
}

func NewRegistry(client kubernetes.Interface, namespace string, leaseSeconds int32) *Registry {
	if namespace == "" {
		namespace = "default"
	}
	if leaseSeconds <= 0 {
		leaseSeconds = 15
	}
	return &Registry{client: client, namespace: namespace, leaseSeconds: leaseSeconds, now: time.Now}
}

// NewClient returns a clientset using in-cluster config or local kubeconfig.
func NewClient() (kubernetes.Interface, error) {
	// Try in-cluster config first
	if cfg, err := rest.InClusterConfig(); err == nil {
		return kubernetes.NewForConfig(cfg)
	}
	// Fallback to local kubeconfig
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	cfg, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

// leaseName derives a DNS-1123 compatible object name.
func leaseName(svc discovery.Service) string {
	var b strings.Builder
	for _, r := range strings.ToLower(svc.Name + "-" + svc.Address) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := b.String()
	if len(name) > 253 {
		name = name[:253]
	}
	return strings.Trim(name, "-")
}

func (r *Registry) Register(ctx context.Context, svc discovery.Service) (discovery.Handle, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	name := leaseName(svc)
	now := metav1.NewMicroTime(r.now())
	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   r.namespace,
			Labels:      map[string]string{serviceLabel: svc.Name},
			Annotations: map[string]string{addressAnnotation: svc.Address},
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &svc.Address,
			LeaseDurationSeconds: &r.leaseSeconds,
			AcquireTime:          &now,
			RenewTime:            &now,
		},
	}

	leases := r.client.CoordinationV1().Leases(r.namespace)
	_, err := leases.Create(ctx, lease, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		err = r.renew(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to register lease %s/%s: %w", r.namespace, name, err)
	}
	log.Debug().Str("namespace", r.namespace).Str("lease", name).Msg("kube: service registered")

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.keepAlive(name, stop)
	}()

	return discovery.HandleFunc(func() {
		close(stop)
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := leases.Delete(ctx, name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			log.Error().Err(err).Str("lease", name).Msg("kube: failed to delete lease")
		}
	}), nil
}

func (r *Registry) renew(ctx context.Context, name string) error {
	leases := r.client.CoordinationV1().Leases(r.namespace)
	lease, err := leases.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return err
	}
	now := metav1.NewMicroTime(r.now())
	lease.Spec.RenewTime = &now
	lease.Spec.LeaseDurationSeconds = &r.leaseSeconds
	_, err = leases.Update(ctx, lease, metav1.UpdateOptions{})
	return err
}

func (r *Registry) keepAlive(name string, stop <-chan struct{}) {
	interval := time.Duration(r.leaseSeconds) * time.Second / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := r.renew(ctx, name); err != nil {
				log.Warn().Err(err).Str("lease", name).Msg("kube: failed to renew lease")
			}
			cancel()
		}
	}
}

// Lookup returns the addresses of unexpired Leases registered under name.
func (r *Registry) Lookup(ctx context.Context, name string) ([]string, error) {
	list, err := r.client.CoordinationV1().Leases(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: serviceLabel + "=" + name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	now := r.now()
	var out []string
	for _, l := range list.Items {
		if l.Spec.RenewTime != nil && l.Spec.LeaseDurationSeconds != nil {
			expiry := l.Spec.RenewTime.Add(time.Duration(*l.Spec.LeaseDurationSeconds) * time.Second)
			if now.After(expiry) {
				continue
			}
		}
		out = append(out, l.Annotations[addressAnnotation])
	}
	return out, nil
}
