package pubsub

import "testing"

func TestTopicNaming(t *testing.T) {
	if got := VersionTopic("orders", 3); got != "orders_v3" {
		t.Errorf("version topic: got %q", got)
	}
	if got := ChangeCaptureTopic("orders", 3); got != "orders_v3_cc" {
		t.Errorf("change-capture topic: got %q", got)
	}
}

func TestStoreVersionFromTopic(t *testing.T) {
	store, version, err := StoreVersionFromTopic("orders_v12_cc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store != "orders" || version != 12 {
		t.Errorf("got %q v%d", store, version)
	}

	// Store names may themselves contain underscores.
	store, version, err = StoreVersionFromTopic("user_profiles_v3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store != "user_profiles" || version != 3 {
		t.Errorf("got %q v%d", store, version)
	}

	for _, bad := range []string{"orders", "_v1", "orders_vx", "orders_v0"} {
		if _, _, err := StoreVersionFromTopic(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestIsChangeCaptureTopic(t *testing.T) {
	if IsChangeCaptureTopic("orders_v3") {
		t.Error("version topic misclassified as change-capture")
	}
	if !IsChangeCaptureTopic("orders_v3_cc") {
		t.Error("change-capture topic not recognized")
	}
}
